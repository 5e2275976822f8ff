package options

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Vendor snapshots disagree on field names; each metric accepts the
// aliases seen across feeds. First present alias wins.
var (
	bidKeys     = []string{"bid", "bid_price", "bp", "bidPrice"}
	askKeys     = []string{"ask", "ask_price", "ap", "askPrice"}
	bidSizeKeys = []string{"bid_size", "bs", "bidSize"}
	askSizeKeys = []string{"ask_size", "as", "askSize"}
	volumeKeys  = []string{"volume", "day_volume", "v", "dayVolume"}
	oiKeys      = []string{"open_interest", "oi", "openInterest"}
	tsKeys      = []string{"snapshot_time", "quote_time", "timestamp", "ts", "t"}
)

// ParseQuote extracts quote metrics from a raw vendor snapshot. Permissive
// on shape, strict on meaning: a field that cannot be read as its type is
// treated as absent, never as zero.
func ParseQuote(raw map[string]any) QuoteMetrics {
	var q QuoteMetrics
	q.Bid = firstDecimal(raw, bidKeys)
	q.Ask = firstDecimal(raw, askKeys)
	q.BidSize = firstInt64(raw, bidSizeKeys)
	q.AskSize = firstInt64(raw, askSizeKeys)
	q.Volume = firstInt64(raw, volumeKeys)
	q.OpenInterest = firstInt64(raw, oiKeys)
	q.SnapshotTime = firstTime(raw, tsKeys)

	// Some feeds nest the NBBO one level down.
	if q.Bid == nil && q.Ask == nil {
		for _, nested := range []string{"quote", "latest_quote", "latestQuote"} {
			if inner, ok := raw[nested].(map[string]any); ok {
				q.Bid = firstDecimal(inner, bidKeys)
				q.Ask = firstDecimal(inner, askKeys)
				if q.BidSize == nil {
					q.BidSize = firstInt64(inner, bidSizeKeys)
				}
				if q.AskSize == nil {
					q.AskSize = firstInt64(inner, askSizeKeys)
				}
				if q.SnapshotTime == nil {
					q.SnapshotTime = firstTime(inner, tsKeys)
				}
				break
			}
		}
	}
	return q
}

func firstDecimal(raw map[string]any, keys []string) *decimal.Decimal {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return &d
		}
	}
	return nil
}

func firstInt64(raw map[string]any, keys []string) *int64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		d, ok := toDecimal(v)
		if !ok || !d.IsInteger() || d.IsNegative() {
			continue
		}
		n := d.IntPart()
		return &n
	}
	return nil
}

func firstTime(raw map[string]any, keys []string) *time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			u := t.UTC()
			return &u
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, t); err == nil {
					u := parsed.UTC()
					return &u
				}
			}
		case float64, int, int64, json.Number:
			if d, ok := toDecimal(t); ok && d.IsPositive() {
				u := fromEpoch(d)
				return &u
			}
		}
	}
	return nil
}

// fromEpoch accepts seconds, milliseconds, or nanoseconds, disambiguated
// by magnitude.
func fromEpoch(d decimal.Decimal) time.Time {
	n := d.IntPart()
	switch {
	case n > 1e17: // nanoseconds
		return time.Unix(0, n).UTC()
	case n > 1e11: // milliseconds
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Decimal{}, false
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return decimal.NewFromFloat(f), true
		}
		return decimal.Decimal{}, false
	default:
		return decimal.Decimal{}, false
	}
}
