package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// DeliveryTracker maintains best-effort per-message delivery counters in
// ops_pubsub_deliveries. Strictly observational: failures are logged and
// swallowed, and nothing in the processing path reads these documents.
type DeliveryTracker struct {
	store   docstore.Store
	limiter *rate.Limiter
	logger  *slog.Logger
	clock   func() time.Time
}

// NewDeliveryTracker creates a tracker writing at most writesPerSecond
// documents per second; excess deliveries are simply not recorded.
func NewDeliveryTracker(store docstore.Store, writesPerSecond float64, logger *slog.Logger) *DeliveryTracker {
	if writesPerSecond <= 0 {
		writesPerSecond = 50
	}
	if logger == nil {
		logger = slog.Default().With("component", "delivery-tracker")
	}
	return &DeliveryTracker{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(writesPerSecond), int(writesPerSecond)+1),
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (d *DeliveryTracker) WithClock(clock func() time.Time) *DeliveryTracker {
	d.clock = clock
	return d
}

// Observe records one delivery of msg. Never returns an error and never
// blocks on the rate limiter.
func (d *DeliveryTracker) Observe(ctx context.Context, msg Message, topic string) {
	if !d.limiter.Allow() {
		return
	}
	now := d.clock().UTC().Format(time.RFC3339Nano)
	id := NormalizeDocID(msg.ID)

	err := d.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc := docstore.Doc{
			"message_id": msg.ID,
			"topic":      topic,
			"first_seen": now,
			"last_seen":  now,
			"seen_count": float64(1),
		}
		createErr := tx.Create(CollectionDeliveries, id, doc)
		if !errors.Is(createErr, docstore.ErrExists) {
			return createErr
		}
		prior, _, getErr := tx.Get(CollectionDeliveries, id)
		if getErr != nil {
			return getErr
		}
		count, _ := prior["seen_count"].(float64)
		prior["seen_count"] = count + 1
		prior["last_seen"] = now
		return tx.Set(CollectionDeliveries, id, prior)
	})
	if err != nil {
		d.logger.Debug("delivery tracking skipped", "message_id", msg.ID, "error", err)
	}
}
