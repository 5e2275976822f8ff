package shadow

import (
	"encoding/json"
	"fmt"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// Records cross the docstore boundary as plain JSON documents; a round
// trip through encoding/json keeps the stored shape identical to the wire
// shape.

func recordToDoc(r Record) (docstore.Doc, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("shadow: encode record %s: %w", r.RecordID, err)
	}
	var doc docstore.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("shadow: encode record %s: %w", r.RecordID, err)
	}
	return doc, nil
}

func docToRecord(doc docstore.Doc) (*Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("shadow: decode record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("shadow: decode record: %w", err)
	}
	return &r, nil
}
