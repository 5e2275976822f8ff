package consumer

import (
	"strings"
	"unicode"
)

// maxDocIDLen caps normalized document ids.
const maxDocIDLen = 256

// DocID picks the deterministic document id for a payload: the producer's
// eventId when present, else the transport messageId. Using eventId makes
// redeliveries under fresh messageIds converge on one document.
func DocID(payload map[string]any, messageID string) string {
	if eventID, ok := payload["eventId"].(string); ok && strings.TrimSpace(eventID) != "" {
		return NormalizeDocID(eventID)
	}
	if eventID, ok := payload["event_id"].(string); ok && strings.TrimSpace(eventID) != "" {
		return NormalizeDocID(eventID)
	}
	return NormalizeDocID(messageID)
}

// NormalizeDocID makes an id safe for path-style document keys: no
// slashes, printable ASCII only, bounded length. Empty input normalizes
// to "_".
func NormalizeDocID(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if len(out) > maxDocIDLen {
		out = out[:maxDocIDLen]
	}
	return out
}
