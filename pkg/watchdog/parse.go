package watchdog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// parseTrade extracts the detector inputs from one shadow record doc.
// PnL enrichment lands after the record is created, so every numeric
// field is optional; only the creation time is mandatory.
func parseTrade(doc docstore.Doc) (trade, bool) {
	created, ok := parseCreatedAt(doc["created_at_utc"])
	if !ok {
		return trade{}, false
	}
	t := trade{
		createdAt:  created,
		action:     tradeAction(doc),
		pnlPercent: optionalDecimal(doc, "pnl_percent", "pnlPercent"),
		pnl:        optionalDecimal(doc, "pnl", "total_pnl", "totalPnl"),
		costBasis:  optionalDecimal(doc, "cost_basis", "costBasis", "cost"),
	}
	return t, true
}

func parseCreatedAt(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func tradeAction(doc docstore.Doc) string {
	if s, ok := doc["action"].(string); ok {
		return s
	}
	if s, ok := doc["side"].(string); ok {
		return s
	}
	if meta, ok := doc["metadata"].(map[string]any); ok {
		for _, key := range []string{"action", "side"} {
			if s, ok := meta[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

func optionalDecimal(doc docstore.Doc, keys ...string) *decimal.Decimal {
	for _, key := range keys {
		if d, ok := toDecimal(doc[key]); ok {
			return &d
		}
		if meta, ok := doc["metadata"].(map[string]any); ok {
			if d, ok := toDecimal(meta[key]); ok {
				return &d
			}
		}
	}
	return nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		if t == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(t)
		return d, err == nil
	case decimal.Decimal:
		return t, true
	default:
		return decimal.Decimal{}, false
	}
}
