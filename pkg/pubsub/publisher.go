package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RequiredAttributeKeys must be present on every published message.
var RequiredAttributeKeys = []string{"event_type", "schema_version", "producer", "environment"}

// Message is one outbound message.
type Message struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// Transport is the underlying publish mechanism. Implementations return
// the server-assigned message id, and classify failures as
// *TransportError so the publisher can decide whether to retry.
type Transport interface {
	Publish(ctx context.Context, topic string, msg Message) (string, error)
}

// RetryPolicy bounds the publisher's persistence.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Deadline bounds the whole publish including backoff sleeps.
	Deadline time.Duration
}

// DefaultRetryPolicy suits a broker a network hop away.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Deadline:    30 * time.Second,
	}
}

// Publisher publishes with bounded, jittered retries. At-most-once per
// attempt: the publisher never invents acknowledgements, it only retries
// attempts whose failure class says a retry can succeed.
type Publisher struct {
	transport Transport
	policy    RetryPolicy
	logger    *slog.Logger

	// randFloat and sleep are injectable for deterministic tests.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPublisher wraps transport with the retry policy.
func NewPublisher(transport Transport, policy RetryPolicy, logger *slog.Logger) *Publisher {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default().With("component", "publisher")
	}
	return &Publisher{
		transport: transport,
		policy:    policy,
		logger:    logger,
		randFloat: rand.Float64,
		sleep:     sleepCtx,
	}
}

// Publish sends msg, retrying retryable failures until the policy's
// attempt or deadline budget runs out. Returns the transport message id.
func (p *Publisher) Publish(ctx context.Context, topic string, msg Message) (string, error) {
	if err := validateAttributes(msg.Attributes); err != nil {
		return "", err
	}

	if p.policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.Deadline)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
				return "", fmt.Errorf("pubsub: publish to %s: deadline during backoff: %w", topic, lastErr)
			}
		}

		id, err := p.transport.Publish(ctx, topic, msg)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !Retryable(err) {
			return "", fmt.Errorf("pubsub: publish to %s: %w", topic, err)
		}
		p.logger.Debug("publish attempt failed",
			"topic", topic, "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("pubsub: publish to %s: attempts exhausted: %w", topic, lastErr)
}

// backoff computes the full-jitter delay for an attempt: a uniform draw
// from [0, min(maxDelay, base*2^(attempt-1))].
func (p *Publisher) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	ceiling := p.policy.BaseDelay << shift
	if ceiling > p.policy.MaxDelay {
		ceiling = p.policy.MaxDelay
	}
	return time.Duration(p.randFloat() * float64(ceiling))
}

func validateAttributes(attrs map[string]string) error {
	var missing []string
	for _, key := range RequiredAttributeKeys {
		if attrs[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pubsub: missing required attributes %v", missing)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
