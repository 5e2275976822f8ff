package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// Consumer applies deliveries to the document store with exactly-once
// effect. Safe for concurrent use; per-document consistency comes from
// the store's transactions, not from any lock in here.
type Consumer struct {
	store   docstore.Store
	tracker *DeliveryTracker
	dlq     *DLQSampler
	replay  *ReplayContext
	logger  *slog.Logger
	clock   func() time.Time

	outcomes metric.Int64Counter
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithDeliveryTracker attaches the non-gating delivery counter.
func WithDeliveryTracker(t *DeliveryTracker) Option {
	return func(c *Consumer) { c.tracker = t }
}

// WithDLQSampler attaches deterministic failure sampling.
func WithDLQSampler(s *DLQSampler) Option {
	return func(c *Consumer) { c.dlq = s }
}

// WithReplay puts the consumer into a named replay run.
func WithReplay(r ReplayContext) Option {
	return func(c *Consumer) { c.replay = &r }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Consumer) { c.clock = clock }
}

// New creates a consumer over store.
func New(store docstore.Store, opts ...Option) *Consumer {
	c := &Consumer{
		store:  store,
		logger: slog.Default().With("component", "consumer"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	// The global meter is a no-op unless a provider is installed, so
	// instrument creation cannot fail in a way worth surfacing.
	c.outcomes, _ = otel.Meter("agent-trader.consumer").Int64Counter(
		"consumer.outcomes",
		metric.WithDescription("Message processing outcomes by topic"),
		metric.WithUnit("{message}"),
	)
	return c
}

// Process settles one delivery. The returned Result always carries a
// disposition; the error is non-nil only for transient failures that
// warrant redelivery (the disposition is then Nack).
func (c *Consumer) Process(ctx context.Context, topic string, msg Message) (Result, error) {
	if c.tracker != nil {
		c.tracker.Observe(ctx, msg, topic)
	}

	handler, err := RouteHandler(topic)
	if err != nil {
		return c.reject(ctx, topic, "router", msg, []string{"unknown_topic"}), nil
	}

	payload, err := msg.Payload()
	if err != nil {
		return c.reject(ctx, topic, handler.Name, msg, []string{"malformed_payload"}), nil
	}

	if reasons := handler.Validate(payload); len(reasons) > 0 {
		return c.reject(ctx, topic, handler.Name, msg, reasons), nil
	}

	docID := DocID(payload, msg.ID)
	if handler.DocID != nil {
		docID = handler.DocID(payload, msg)
	}

	eventTime := EventTime(payload, msg.PublishTime)
	stamp := Stamp{PublishedAt: eventTime, MessageID: msg.ID}
	now := c.clock().UTC()

	incoming := payload
	if handler.Transform != nil {
		incoming = handler.Transform(payload)
	}

	outcome := OutcomeApplied
	err = c.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		prior, fresh, err := checkMessageOnce(tx, msg.ID)
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicateMessage
			c.logger.Debug("duplicate message",
				"message_id", msg.ID, "topic", topic, "prior_outcome", string(prior))
			return nil
		}

		settle := func(o Outcome) error {
			outcome = o
			return tx.Set(CollectionDedupe, NormalizeDocID(msg.ID), dedupeDoc(msg, topic, o, docID, now))
		}

		if c.replay != nil {
			applied, err := c.replay.alreadyApplied(tx, docID)
			if err != nil {
				return err
			}
			if applied {
				if err := settle(OutcomeAlreadyApplied); err != nil {
					return err
				}
				return c.replay.markSeen(tx, eventTime, now)
			}
		}

		var bizKey string
		if handler.BusinessKey != nil {
			bizKey, err = handler.BusinessKey(payload)
			if err != nil {
				return err
			}
			if _, exists, err := tx.Get(collectionBizDedupe, bizKey); err != nil {
				return err
			} else if exists {
				if err := settle(OutcomeDuplicateBusiness); err != nil {
					return err
				}
				if c.replay != nil {
					return c.replay.markSeen(tx, eventTime, now)
				}
				return nil
			}
		}

		doc := make(map[string]any, len(incoming)+3)
		for k, v := range incoming {
			doc[k] = v
		}
		stampFields(doc, eventTime, stamp)

		applied, err := upsertLWW(tx, handler.Collection, docID, doc, stamp, handler.Special)
		if err != nil {
			return err
		}
		if err := settle(applied); err != nil {
			return err
		}

		if applied == OutcomeApplied && bizKey != "" {
			marker := docstore.Doc{
				"doc_id":     docID,
				"message_id": msg.ID,
				"created_at": now.Format(time.RFC3339Nano),
			}
			if err := tx.Set(collectionBizDedupe, bizKey, marker); err != nil {
				return err
			}
		}

		if c.replay != nil {
			if applied == OutcomeApplied {
				return c.replay.markApplied(tx, docID, eventTime, now)
			}
			return c.replay.markSeen(tx, eventTime, now)
		}
		return nil
	})
	if err != nil {
		// Unknown failure: fail closed, redeliver.
		c.count(ctx, topic, "transient_error")
		c.logger.Warn("processing failed, message will be redelivered",
			"message_id", msg.ID, "topic", topic, "error", err)
		return Result{Disposition: Nack, DocID: docID, Collection: handler.Collection},
			fmt.Errorf("consumer: process %s on %s: %w", msg.ID, topic, err)
	}

	c.count(ctx, topic, string(outcome))
	return Result{
		Outcome:     outcome,
		Disposition: Ack,
		DocID:       docID,
		Collection:  handler.Collection,
	}, nil
}

// reject settles a permanently invalid message: ack, log, sample.
func (c *Consumer) reject(ctx context.Context, topic, handlerName string, msg Message, reasons []string) Result {
	c.logger.Warn("message rejected",
		"message_id", msg.ID, "topic", topic, "handler", handlerName, "reason_codes", reasons)
	c.count(ctx, topic, string(OutcomeRejected))

	if c.dlq != nil {
		if _, err := c.dlq.Record(ctx, msg, topic, handlerName, reasons[0]); err != nil {
			c.logger.Debug("dlq sample write failed", "message_id", msg.ID, "error", err)
		}
	}
	return Result{Outcome: OutcomeRejected, Disposition: Ack, Reasons: reasons}
}

func (c *Consumer) count(ctx context.Context, topic, outcome string) {
	if c.outcomes == nil {
		return
	}
	c.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
}

// Delivery pairs a message with its transport callbacks.
type Delivery struct {
	Topic   string
	Message Message
	Ack     func()
	Nack    func()
}

// RunWorkers drains deliveries with n parallel workers until the channel
// closes or ctx is cancelled. Distinct messages process concurrently;
// same-document races are settled by the store's transactions.
func (c *Consumer) RunWorkers(ctx context.Context, n int, deliveries <-chan Delivery) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					res, err := c.Process(ctx, d.Topic, d.Message)
					switch {
					case res.Disposition == Nack || err != nil:
						if d.Nack != nil {
							d.Nack()
						}
					default:
						if d.Ack != nil {
							d.Ack()
						}
					}
				}
			}
		}()
	}
	wg.Wait()
}
