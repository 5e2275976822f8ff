package consumer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/envelope"
)

// businessKeyFields are the payload fields that identify a trade signal
// logically, independent of transport message identity.
var businessKeyFields = []string{"symbol", "strategy", "action", "signal_type", "eventId"}

// BusinessDedupeKey hashes the logical identity of a trade signal. The
// subset is canonicalized (RFC 8785) before hashing so key order and
// number formatting can never produce two keys for one signal.
func BusinessDedupeKey(payload map[string]any) (string, error) {
	subset := map[string]any{}
	for _, field := range businessKeyFields {
		if v, ok := payload[field]; ok && v != nil {
			subset[field] = v
		}
	}
	raw, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("consumer: business key: %w", err)
	}
	canonical, err := envelope.Canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("consumer: business key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// dedupeDoc builds the ops_dedupe record for one processed message.
func dedupeDoc(msg Message, topic string, outcome Outcome, docID string, now time.Time) docstore.Doc {
	return docstore.Doc{
		"message_id":   msg.ID,
		"topic":        topic,
		"outcome":      string(outcome),
		"doc_id":       docID,
		"publish_time": msg.PublishTime.UTC().Format(time.RFC3339Nano),
		"recorded_at":  now.UTC().Format(time.RFC3339Nano),
	}
}

// checkMessageOnce looks up the dedupe doc for msg inside tx. ok=false
// means this messageId has already been settled.
func checkMessageOnce(tx docstore.Tx, messageID string) (Outcome, bool, error) {
	doc, exists, err := tx.Get(CollectionDedupe, NormalizeDocID(messageID))
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", true, nil
	}
	prior, _ := doc["outcome"].(string)
	return Outcome(prior), false, nil
}
