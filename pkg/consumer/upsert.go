package consumer

import (
	"strings"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// Service status vocabulary. Everything not recognized maps to unknown.
const (
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusDown        = "down"
	StatusMaintenance = "maintenance"
	StatusUnknown     = "unknown"
)

var statusAliases = map[string]string{
	"ok":          StatusHealthy,
	"healthy":     StatusHealthy,
	"running":     StatusHealthy,
	"up":          StatusHealthy,
	"online":      StatusHealthy,
	"green":       StatusHealthy,
	"degraded":    StatusDegraded,
	"warn":        StatusDegraded,
	"warning":     StatusDegraded,
	"yellow":      StatusDegraded,
	"down":        StatusDown,
	"error":       StatusDown,
	"failed":      StatusDown,
	"offline":     StatusDown,
	"red":         StatusDown,
	"maintenance": StatusMaintenance,
	"paused":      StatusMaintenance,
}

// NormalizeStatus folds vendor status spellings into the canonical set.
func NormalizeStatus(raw string) string {
	if mapped, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return StatusUnknown
}

// resolveStatus applies the transition rules for ops_services: a known
// status never regresses to unknown.
func resolveStatus(previous, incoming string) string {
	if incoming == StatusUnknown && previous != "" && previous != StatusUnknown {
		return previous
	}
	return incoming
}

// mergeWithProtection folds incoming fields over the existing document
// without letting nulls erase known timestamps. Returns the merged doc;
// the existing doc is not mutated.
func mergeWithProtection(existing docstore.Doc, incoming map[string]any) docstore.Doc {
	merged := docstore.Clone(existing)
	if merged == nil {
		merged = docstore.Doc{}
	}
	for key, value := range incoming {
		if value == nil {
			if prior, ok := merged[key]; ok && prior != nil && isTimestampField(key) {
				continue
			}
		}
		merged[key] = value
	}
	return merged
}

func isTimestampField(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, "at") ||
		strings.HasSuffix(lower, "_ts") ||
		strings.Contains(lower, "time") ||
		lower == "ts"
}

// upsertLWW is the core transaction body shared by every entity handler:
// read, compare stamps, merge, write, settle the dedupe doc.
//
// The incoming document must already carry eventTime/publishedAt fields
// (the handler sets them); stamp is the delivery's LWW tuple.
func upsertLWW(tx docstore.Tx, collection, docID string, incoming map[string]any, stamp Stamp, special func(existing docstore.Doc, merged docstore.Doc)) (Outcome, error) {
	existing, found, err := tx.Get(collection, docID)
	if err != nil {
		return "", err
	}

	if found {
		if maxTS, ok := existingMaxStamp(existing); ok {
			existingStamp := Stamp{PublishedAt: maxTS, MessageID: asString(existing["messageId"])}
			if stamp.Before(existingStamp) {
				return OutcomeOutOfOrderIgnored, nil
			}
		}
	}

	merged := mergeWithProtection(existing, incoming)
	merged["messageId"] = stamp.MessageID
	if special != nil {
		special(existing, merged)
	}
	if err := tx.Set(collection, docID, merged); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// stampFields injects the ordering evidence the next delivery will compare
// against.
func stampFields(doc map[string]any, eventTime time.Time, stamp Stamp) {
	doc["eventTime"] = eventTime.UTC().Format(time.RFC3339Nano)
	doc["publishedAt"] = stamp.PublishedAt.UTC().Format(time.RFC3339Nano)
}
