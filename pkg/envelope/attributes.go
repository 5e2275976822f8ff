package envelope

import (
	"fmt"
	"strings"
)

// Transport attribute keys required on every published message. Attributes
// are routing metadata only; the payload body is never mutated to satisfy
// attribute invariants.
const (
	AttrEventType     = "event_type"
	AttrSchemaVersion = "schema_version"
	AttrProducer      = "producer"
	AttrEnvironment   = "environment"
)

// maxAttributeLen bounds a single attribute value on the wire.
const maxAttributeLen = 256

// Attributes is the validated transport attribute set.
type Attributes struct {
	EventType     string
	SchemaVersion string
	Producer      string
	Environment   string
}

// NewAttributes trims and validates the four required transport attributes.
func NewAttributes(eventType, schemaVersion, producer, environment string) (Attributes, error) {
	a := Attributes{
		EventType:     strings.TrimSpace(eventType),
		SchemaVersion: strings.TrimSpace(schemaVersion),
		Producer:      strings.TrimSpace(producer),
		Environment:   strings.TrimSpace(environment),
	}
	for key, value := range a.Map() {
		if value == "" {
			return Attributes{}, fmt.Errorf("transport attribute %s must be non-empty", key)
		}
		if len(value) > maxAttributeLen {
			return Attributes{}, fmt.Errorf("transport attribute %s exceeds %d bytes", key, maxAttributeLen)
		}
	}
	return a, nil
}

// Map renders the attributes as the flat string map transports carry.
func (a Attributes) Map() map[string]string {
	return map[string]string{
		AttrEventType:     a.EventType,
		AttrSchemaVersion: a.SchemaVersion,
		AttrProducer:      a.Producer,
		AttrEnvironment:   a.Environment,
	}
}
