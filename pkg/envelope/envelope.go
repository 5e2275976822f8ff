// Package envelope defines the versioned wire envelope every agent event
// travels in, plus its codec. Decoding is alias-tolerant so older
// producers keep working; encoding is canonical snake_case so consumers
// and audit tooling see exactly one shape.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SchemaVersion is the only envelope schema this codebase produces and
// accepts. Subscribers must negative-acknowledge anything else so the
// message stays on the bus for a capable consumer.
const SchemaVersion = 1

// ErrSchemaVersionMismatch marks an envelope whose schemaVersion is present
// but not SchemaVersion. Handlers nack on this error rather than ack.
var ErrSchemaVersionMismatch = errors.New("envelope schema version mismatch")

// Envelope is the versioned wire form of an agent event.
type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	AgentName     string         `json:"agent_name"`
	GitSHA        string         `json:"git_sha"`
	TS            time.Time      `json:"ts"`
	Payload       map[string]any `json:"payload"`
	TraceID       string         `json:"trace_id"`

	// Extra keeps unknown top-level fields for forward-compatible decode.
	// It is never re-encoded.
	Extra map[string]any `json:"-"`
}

// FieldError is a single decode/validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// DecodeError aggregates every field failure of one decode attempt.
type DecodeError struct {
	Errors []FieldError
}

func (e *DecodeError) Error() string {
	if len(e.Errors) == 1 {
		return "envelope decode: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("envelope decode: %d field errors (first: %s)", len(e.Errors), e.Errors[0].Error())
}

// DecodeOptions tune alias and legacy handling.
type DecodeOptions struct {
	// AllowLegacyUnversioned admits envelopes with no schema version field
	// at all, treating them as version 1. This is an explicit escape hatch
	// for replaying pre-versioning archives; it is off everywhere else.
	AllowLegacyUnversioned bool
}

// canonical name -> accepted aliases, in lookup order. The canonical
// snake_case name always wins when both are present.
var fieldAliases = map[string][]string{
	"schema_version": {"schema_version", "schemaVersion"},
	"event_type":     {"event_type", "eventType", "type"},
	"agent_name":     {"agent_name", "agentName"},
	"git_sha":        {"git_sha", "gitSha", "sha"},
	"ts":             {"ts", "producedAt"},
	"trace_id":       {"trace_id", "traceId"},
}

// Decode parses raw JSON into an Envelope with default options.
func Decode(raw []byte) (*Envelope, error) {
	return DecodeWithOptions(raw, DecodeOptions{})
}

// DecodeWithOptions parses raw JSON into an Envelope. All missing-field
// errors are aggregated into one *DecodeError; a wrong schema version is
// returned as ErrSchemaVersionMismatch so callers can nack.
func DecodeWithOptions(raw []byte, opts DecodeOptions) (*Envelope, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("envelope decode: not a JSON object: %w", err)
	}

	var errs []FieldError
	addErr := func(field, code, message string) {
		errs = append(errs, FieldError{Field: field, Code: code, Message: message})
	}

	env := &Envelope{}

	rawVersion, versionPresent := lookupAlias(doc, "schema_version")
	switch {
	case versionPresent:
		v, ok := asInt(rawVersion)
		if !ok {
			addErr("schema_version", "INVALID_TYPE", "schema version must be an integer")
		} else if v != SchemaVersion {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, v, SchemaVersion)
		} else {
			env.SchemaVersion = v
		}
	case opts.AllowLegacyUnversioned:
		env.SchemaVersion = SchemaVersion
	default:
		addErr("schema_version", "REQUIRED", "schema version is required")
	}

	env.EventType = requireString(doc, "event_type", addErr)
	env.AgentName = requireString(doc, "agent_name", addErr)
	env.GitSHA = requireString(doc, "git_sha", addErr)
	env.TraceID = requireString(doc, "trace_id", addErr)

	if rawTS, ok := lookupAlias(doc, "ts"); ok {
		s, isStr := rawTS.(string)
		if !isStr {
			addErr("ts", "INVALID_TYPE", "ts must be an ISO-8601 string")
		} else if ts, err := time.Parse(time.RFC3339Nano, s); err != nil {
			addErr("ts", "INVALID_VALUE", fmt.Sprintf("cannot parse timestamp %q", s))
		} else {
			env.TS = ts.UTC()
		}
	} else {
		addErr("ts", "REQUIRED", "ts is required")
	}

	if rawPayload, ok := doc["payload"]; ok {
		payload, isMap := rawPayload.(map[string]any)
		if !isMap {
			addErr("payload", "INVALID_TYPE", "payload must be an object")
		} else {
			env.Payload = payload
		}
	} else {
		addErr("payload", "REQUIRED", "payload is required")
	}

	env.Extra = collectExtras(doc)

	if len(errs) > 0 {
		return nil, &DecodeError{Errors: errs}
	}
	return env, nil
}

// Encode renders the canonical snake_case wire form. The byte output is
// RFC 8785 canonical JSON, so two equivalent envelopes always serialize
// identically (stable for hashing and dedupe).
func (e *Envelope) Encode() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope encode: payload must not be nil")
	}
	out := map[string]any{
		"schema_version": SchemaVersion,
		"event_type":     e.EventType,
		"agent_name":     e.AgentName,
		"git_sha":        e.GitSHA,
		"ts":             e.TS.UTC().Format(time.RFC3339Nano),
		"payload":        e.Payload,
		"trace_id":       e.TraceID,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("envelope encode: %w", err)
	}
	return canonicalize(raw)
}

func requireString(doc map[string]any, canonical string, addErr func(field, code, message string)) string {
	raw, ok := lookupAlias(doc, canonical)
	if !ok {
		addErr(canonical, "REQUIRED", canonical+" is required")
		return ""
	}
	s, isStr := raw.(string)
	if !isStr || s == "" {
		addErr(canonical, "INVALID_VALUE", canonical+" must be a non-empty string")
		return ""
	}
	return s
}

func lookupAlias(doc map[string]any, canonical string) (any, bool) {
	for _, name := range fieldAliases[canonical] {
		if v, ok := doc[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func collectExtras(doc map[string]any) map[string]any {
	known := map[string]bool{"payload": true}
	for _, aliases := range fieldAliases {
		for _, a := range aliases {
			known[a] = true
		}
	}
	var extra map[string]any
	for k, v := range doc {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = v
	}
	return extra
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
