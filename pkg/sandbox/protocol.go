// Package sandbox runs untrusted strategy code in a WebAssembly guest
// with no ambient authority: no filesystem, no network, no environment.
// Host and guest speak NDJSON over the guest's stdin/stdout, one JSON
// object per line. The host never imports or executes strategy code.
package sandbox

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProtocolV1 is the only protocol this host speaks. Every line carries it
// as the first field; any other value fails the session.
const ProtocolV1 = "v1"

// Message types on the wire.
const (
	TypeMarketEvent = "market_event" // host → guest
	TypeShutdown    = "shutdown"     // host → guest
	TypeOrderIntent = "order_intent" // guest → host
	TypeLog         = "log"          // guest → host
)

// idPattern constrains every identifier crossing the trust boundary.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-]{0,127}$`)

// ValidID reports whether s is an acceptable protocol identifier.
func ValidID(s string) bool { return idPattern.MatchString(s) }

// MarketEvent is one host→guest market update.
type MarketEvent struct {
	EventID string         `json:"event_id"`
	TS      string         `json:"ts"`
	Symbol  string         `json:"symbol"`
	Kind    string         `json:"kind,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OrderIntent is what a strategy wants to do. Intents are observations;
// nothing in the platform turns one into a broker order.
type OrderIntent struct {
	IntentID    string         `json:"intent_id"`
	EventID     string         `json:"event_id"`
	TS          string         `json:"ts"`
	Symbol      string         `json:"symbol"`
	Side        string         `json:"side"`
	Qty         float64        `json:"qty"`
	OrderType   string         `json:"order_type"`
	LimitPrice  *float64       `json:"limit_price,omitempty"`
	TimeInForce string         `json:"time_in_force,omitempty"`
	ClientTag   string         `json:"client_tag,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LogLine is a guest log statement surfaced to the host's logger.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// hostFrame is a host→guest line.
type hostFrame struct {
	Protocol string       `json:"protocol"`
	Type     string       `json:"type"`
	Event    *MarketEvent `json:"event,omitempty"`
}

// guestFrame is a guest→host line.
type guestFrame struct {
	Protocol string          `json:"protocol"`
	Type     string          `json:"type"`
	Intent   json.RawMessage `json:"intent,omitempty"`
	Level    string          `json:"level,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ProtocolError fails the whole session, not just the offending line.
type ProtocolError struct {
	Line   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sandbox: protocol violation at line %d: %s", e.Line, e.Reason)
}

// intentSchema is the structural contract for guest intents. Identifier
// patterns and the qty>0 bound live here; anything the schema rejects is
// an invalid intent.
const intentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent_id", "event_id", "ts", "symbol", "side", "qty", "order_type"],
  "properties": {
    "intent_id": {"type": "string", "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_\\-]{0,127}$"},
    "event_id": {"type": "string", "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_\\-]{0,127}$"},
    "ts": {"type": "string", "minLength": 1},
    "symbol": {"type": "string", "minLength": 1, "maxLength": 32},
    "side": {"enum": ["buy", "sell"]},
    "qty": {"type": "number", "exclusiveMinimum": 0},
    "order_type": {"enum": ["market", "limit", "stop", "stop_limit"]},
    "limit_price": {"type": "number", "exclusiveMinimum": 0},
    "time_in_force": {"enum": ["day", "gtc", "ioc", "fok"]},
    "client_tag": {"type": "string", "maxLength": 128},
    "metadata": {"type": "object"}
  },
  "additionalProperties": false
}`

var intentSchema = jsonschema.MustCompileString("order_intent.json", intentSchemaJSON)

// ValidateIntent checks one raw intent against the schema and decodes it.
func ValidateIntent(raw json.RawMessage) (OrderIntent, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return OrderIntent{}, fmt.Errorf("sandbox: intent is not JSON: %w", err)
	}
	if err := intentSchema.Validate(generic); err != nil {
		return OrderIntent{}, fmt.Errorf("sandbox: invalid intent: %w", err)
	}
	var intent OrderIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return OrderIntent{}, fmt.Errorf("sandbox: decode intent: %w", err)
	}
	return intent, nil
}

// parseGuestLine decodes and protocol-checks one guest output line.
func parseGuestLine(line []byte, lineNo int) (*guestFrame, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, nil
	}
	var frame guestFrame
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		return nil, &ProtocolError{Line: lineNo, Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if frame.Protocol != ProtocolV1 {
		return nil, &ProtocolError{Line: lineNo, Reason: fmt.Sprintf("protocol %q, want %q", frame.Protocol, ProtocolV1)}
	}
	switch frame.Type {
	case TypeOrderIntent, TypeLog:
		return &frame, nil
	default:
		return nil, &ProtocolError{Line: lineNo, Reason: fmt.Sprintf("unknown guest message type %q", frame.Type)}
	}
}
