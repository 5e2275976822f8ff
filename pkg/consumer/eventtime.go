package consumer

import (
	"encoding/json"
	"strconv"
	"time"
)

// event-time field priority. The first parseable field wins; the
// transport publish time is the fallback of last resort.
var eventTimeKeys = []string{"producedAt", "publishedAt", "timestamp", "ts", "time"}

// EventTime selects the event time for a payload.
func EventTime(payload map[string]any, publishTime time.Time) time.Time {
	for _, key := range eventTimeKeys {
		if ts, ok := parseTimestamp(payload[key]); ok {
			return ts
		}
	}
	return publishTime.UTC()
}

// Stamp is the LWW ordering tuple. Later published_at wins; message id
// breaks exact ties so ordering is total.
type Stamp struct {
	PublishedAt time.Time `json:"published_at"`
	MessageID   string    `json:"message_id"`
}

// Before reports whether s is strictly older than other.
func (s Stamp) Before(other Stamp) bool {
	if !s.PublishedAt.Equal(other.PublishedAt) {
		return s.PublishedAt.Before(other.PublishedAt)
	}
	return s.MessageID < other.MessageID
}

// parseTimestamp accepts RFC3339 strings, epoch numbers (s/ms/ns by
// magnitude), and json.Number. Anything else is not a timestamp.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
		if n, err := strconv.ParseFloat(t, 64); err == nil && n > 0 {
			return epochToTime(n), true
		}
		return time.Time{}, false
	case json.Number:
		if n, err := t.Float64(); err == nil && n > 0 {
			return epochToTime(n), true
		}
		return time.Time{}, false
	case float64:
		if t > 0 {
			return epochToTime(t), true
		}
		return time.Time{}, false
	case int64:
		if t > 0 {
			return epochToTime(float64(t)), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func epochToTime(n float64) time.Time {
	switch {
	case n > 1e17: // nanoseconds
		return time.Unix(0, int64(n)).UTC()
	case n > 1e11: // milliseconds
		return time.UnixMilli(int64(n)).UTC()
	default:
		sec := int64(n)
		frac := n - float64(sec)
		return time.Unix(sec, int64(frac*1e9)).UTC()
	}
}

// existingMaxStamp reconstructs the strongest ordering evidence already in
// a document: the max over its eventTime, producedAt, publishedAt, and
// source publishedAt fields.
func existingMaxStamp(doc map[string]any) (time.Time, bool) {
	var max time.Time
	found := false
	consider := func(v any) {
		if ts, ok := parseTimestamp(v); ok {
			if !found || ts.After(max) {
				max = ts
				found = true
			}
		}
	}
	consider(doc["eventTime"])
	consider(doc["producedAt"])
	consider(doc["publishedAt"])
	if source, ok := doc["source"].(map[string]any); ok {
		consider(source["publishedAt"])
	}
	return max, found
}
