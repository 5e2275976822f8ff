// Package shadow records what the platform would have executed. Each
// intent produces at most one append-only record; the record id is a
// stable UUID derived from the tenant and intent identity, so retries,
// restarts, and redeliveries all converge on the same document. No broker
// is ever called from this package.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/options"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/redact"
)

// Collection is where shadow trade records live.
const Collection = "shadowTradeHistory"

// Outcome says what Execute did with an intent.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeHold      Outcome = "hold"
)

// Statuses and skip reasons reported alongside the outcome.
const (
	StatusSimulated = "simulated"
	StatusSkipped   = "skipped"

	ReasonDuplicateIntentReplay = "duplicate_intent_replay"
	ReasonHoldIntent            = "hold_intent"
)

var (
	ErrMissingIntentID = errors.New("shadow: intent id is required")
	ErrMissingTenant   = errors.New("shadow: tenant is required")
)

// InvalidContractCountError rejects contract counts that are absent,
// non-positive, or fractional.
type InvalidContractCountError struct {
	Value any
}

func (e *InvalidContractCountError) Error() string {
	return fmt.Sprintf("shadow: contract count must be a positive integer, got %v", e.Value)
}

// Intent is the simulated execution request.
type Intent struct {
	IntentID string
	Tenant   string
	// ContractCount is the raw value from the producer; it is parsed
	// permissively but validated strictly.
	ContractCount any
	Metadata      map[string]any
}

// Record is the persisted simulated fill. Append-only: nothing updates a
// record after creation.
type Record struct {
	RecordID      string                `json:"record_id"`
	Tenant        string                `json:"tenant"`
	IntentID      string                `json:"intent_id"`
	Contract      options.Contract      `json:"contract"`
	Quote         options.QuoteMetrics  `json:"quote"`
	ContractCount int64                 `json:"contract_count"`
	Reason        string                `json:"reason"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	CreatedAtUTC  time.Time             `json:"created_at_utc"`
}

// Result pairs the outcome with the record it refers to. Record is nil
// only for OutcomeHold. Applied is true exactly once per (tenant, intent).
type Result struct {
	Outcome Outcome `json:"outcome"`
	Status  string  `json:"status"`
	Applied bool    `json:"applied"`
	Reason  string  `json:"reason,omitempty"`
	Record  *Record `json:"record,omitempty"`
}

// StableKey derives the deterministic record id for a (tenant, intent)
// pair. SHA1-based UUIDv5 in the URL namespace; the same pair always maps
// to the same id on every host.
func StableKey(tenant, intentID string) string {
	name := fmt.Sprintf("%s:shadow_option_intent:%s", tenant, intentID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// holdValues are the metadata values that mean "do nothing".
var holdValues = map[string]bool{"hold": true, "no_op": true, "noop": true, "none": true}

// holdKeys are the metadata fields inspected for a hold marker, in order.
var holdKeys = []string{"action", "signal_action", "decision", "intent_action"}

// IsHold reports whether the intent metadata marks this intent as a hold.
func IsHold(metadata map[string]any) bool {
	for _, key := range holdKeys {
		v, ok := metadata[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if ok && holdValues[strings.ToLower(strings.TrimSpace(s))] {
			return true
		}
	}
	return false
}

// Executor writes shadow records through the document store.
type Executor struct {
	store docstore.Store
	clock func() time.Time
}

// NewExecutor creates a shadow executor over store.
func NewExecutor(store docstore.Store) *Executor {
	return &Executor{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Execute records one simulated fill. Idempotent on (tenant, intent id):
// the first call creates, every later call returns the existing record
// with OutcomeDuplicate. HOLD intents are skipped without writing.
func (e *Executor) Execute(ctx context.Context, intent Intent, selected *options.Selected, reason string) (Result, error) {
	if strings.TrimSpace(intent.IntentID) == "" {
		return Result{}, ErrMissingIntentID
	}
	if strings.TrimSpace(intent.Tenant) == "" {
		return Result{}, ErrMissingTenant
	}
	if IsHold(intent.Metadata) {
		return Result{Outcome: OutcomeHold, Status: StatusSkipped, Reason: ReasonHoldIntent}, nil
	}

	count, err := parseContractCount(intent.ContractCount)
	if err != nil {
		return Result{}, err
	}

	record := Record{
		RecordID:      StableKey(intent.Tenant, intent.IntentID),
		Tenant:        intent.Tenant,
		IntentID:      intent.IntentID,
		ContractCount: count,
		Reason:        reason,
		Metadata:      redact.Map(intent.Metadata),
		CreatedAtUTC:  e.clock().UTC(),
	}
	if selected != nil {
		record.Contract = selected.Contract
		record.Quote = selected.Quote
	}

	doc, err := recordToDoc(record)
	if err != nil {
		return Result{}, err
	}

	var existing docstore.Doc
	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		createErr := tx.Create(Collection, record.RecordID, doc)
		if errors.Is(createErr, docstore.ErrExists) {
			prior, _, getErr := tx.Get(Collection, record.RecordID)
			if getErr != nil {
				return getErr
			}
			existing = prior
			return nil
		}
		return createErr
	})
	if err != nil {
		return Result{}, fmt.Errorf("shadow: record %s: %w", record.RecordID, err)
	}

	if existing != nil {
		prior, err := docToRecord(existing)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Outcome: OutcomeDuplicate,
			Status:  StatusSkipped,
			Reason:  ReasonDuplicateIntentReplay,
			Record:  prior,
		}, nil
	}
	return Result{Outcome: OutcomeCreated, Status: StatusSimulated, Applied: true, Record: &record}, nil
}

// Get looks up a record by its stable key.
func (e *Executor) Get(ctx context.Context, tenant, intentID string) (*Record, bool, error) {
	doc, ok, err := e.store.Get(ctx, Collection, StableKey(tenant, intentID))
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := docToRecord(doc)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// parseContractCount accepts the numeric shapes producers actually send
// and rejects everything that is not a whole positive number.
func parseContractCount(v any) (int64, error) {
	d, ok := toDecimal(v)
	if !ok || !d.IsInteger() || !d.IsPositive() {
		return 0, &InvalidContractCountError{Value: v}
	}
	return d.IntPart(), nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
