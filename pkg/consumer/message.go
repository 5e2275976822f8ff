// Package consumer materializes at-least-once pub/sub deliveries into
// exactly-once document effects. Three independent guards make retries
// harmless: a per-message dedupe document, last-write-wins ordering on
// (published_at, message_id), and a business-level dedupe key for trade
// signals. Replay runs add a fourth, opt-in guard.
package consumer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one pub/sub delivery as the consumer sees it.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	OrderingKey string
}

// Payload decodes the message body into a generic document. Numbers stay
// as json.Number so large ids survive undamaged.
func (m Message) Payload() (map[string]any, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(m.Data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("consumer: message %s: decode payload: %w", m.ID, err)
	}
	return payload, nil
}

// Outcome is the recorded effect of processing one message. The dedupe
// document stores exactly one of these per messageId.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeDuplicateMessage  Outcome = "duplicate_message_noop"
	OutcomeOutOfOrderIgnored Outcome = "out_of_order_ignored"
	OutcomeDuplicateBusiness Outcome = "duplicate_business_noop"
	OutcomeAlreadyApplied    Outcome = "already_applied_noop"
	OutcomeRejected          Outcome = "validation_rejected"
)

// Disposition tells the transport what to do with the delivery.
type Disposition int

const (
	// Ack acknowledges: applied, duplicate, stale, or permanently invalid.
	Ack Disposition = iota
	// Nack requests redelivery after a transient failure.
	Nack
)

// Result is what Process returns for one delivery.
type Result struct {
	Outcome     Outcome
	Disposition Disposition
	DocID       string
	Collection  string
	Reasons     []string
}

// Document collections owned by the consumer.
const (
	CollectionDedupe       = "ops_dedupe"
	CollectionApplied      = "ops_applied_events"
	CollectionReplayRuns   = "ops_replay_runs"
	CollectionReplayMarks  = "ops_replay_markers"
	CollectionDeliveries   = "ops_pubsub_deliveries"
	CollectionDLQSamples   = "ops_pubsub_dlq_samples"
	CollectionMarketTicks  = "market_ticks"
	CollectionMarketBars1m = "market_bars_1m"
	CollectionTradeSignals = "trade_signals"
	CollectionOpsServices  = "ops_services"
	CollectionPipelines    = "ingest_pipelines"
	// collectionBizDedupe indexes trade signals by business dedupe hash.
	collectionBizDedupe = "ops_business_dedupe"
)
