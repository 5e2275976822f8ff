package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) Publish(_ context.Context, _ string, _ Message) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return "srv-id", nil
}

func goodAttrs() map[string]string {
	return map[string]string{
		"event_type":     "trade_signal",
		"schema_version": "1",
		"producer":       "momo-agent",
		"environment":    "observe",
	}
}

func newTestPublisher(tr Transport, policy RetryPolicy) (*Publisher, *[]time.Duration) {
	p := NewPublisher(tr, policy, nil)
	p.randFloat = func() float64 { return 1.0 } // jitter ceiling, deterministic
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestPublishRetriesRetryableThenSucceeds(t *testing.T) {
	tr := &scriptedTransport{errs: []error{
		NewTransportError(CodeUnavailable, errors.New("conn refused")),
		NewTransportError(CodeResourceExhausted, errors.New("quota")),
		nil,
	}}
	p, slept := newTestPublisher(tr, RetryPolicy{
		MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Deadline: time.Minute,
	})

	id, err := p.Publish(context.Background(), "trade_signals", Message{Attributes: goodAttrs()})
	require.NoError(t, err)
	assert.Equal(t, "srv-id", id)
	assert.Equal(t, 3, tr.calls)
	// Full-jitter ceilings double: 100ms then 200ms.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestPublishFailsFastOnNonRetryable(t *testing.T) {
	for _, code := range []Code{
		CodeInvalidArgument, CodePermissionDenied, CodeUnauthenticated,
		CodeFailedPrecondition, CodeNotFound, CodeAlreadyExists,
	} {
		tr := &scriptedTransport{errs: []error{NewTransportError(code, nil)}}
		p, slept := newTestPublisher(tr, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second})

		_, err := p.Publish(context.Background(), "t", Message{Attributes: goodAttrs()})
		require.Error(t, err, "code %s", code)
		assert.Equal(t, 1, tr.calls, "code %s must not retry", code)
		assert.Empty(t, *slept)

		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, code, te.Code)
	}
}

func TestPublishExhaustsAttempts(t *testing.T) {
	boom := NewTransportError(CodeInternal, errors.New("500"))
	tr := &scriptedTransport{errs: []error{boom, boom, boom}}
	p, _ := newTestPublisher(tr, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	_, err := p.Publish(context.Background(), "t", Message{Attributes: goodAttrs()})
	require.Error(t, err)
	assert.ErrorContains(t, err, "attempts exhausted")
	assert.Equal(t, 3, tr.calls)
}

func TestPublishStopsWhenDeadlineHitsDuringBackoff(t *testing.T) {
	boom := NewTransportError(CodeUnavailable, nil)
	tr := &scriptedTransport{errs: []error{boom, boom, boom, boom}}
	p := NewPublisher(tr, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Second}, nil)
	p.sleep = func(ctx context.Context, _ time.Duration) error { return context.DeadlineExceeded }

	_, err := p.Publish(context.Background(), "t", Message{Attributes: goodAttrs()})
	require.Error(t, err)
	assert.ErrorContains(t, err, "deadline during backoff")
	assert.Equal(t, 1, tr.calls)
}

func TestPublishRequiresTransportAttributes(t *testing.T) {
	tr := &scriptedTransport{}
	p, _ := newTestPublisher(tr, DefaultRetryPolicy())

	attrs := goodAttrs()
	delete(attrs, "producer")
	_, err := p.Publish(context.Background(), "t", Message{Attributes: attrs})
	require.Error(t, err)
	assert.ErrorContains(t, err, "producer")
	assert.Zero(t, tr.calls)
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	p, _ := newTestPublisher(&scriptedTransport{}, RetryPolicy{
		MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond,
	})
	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.backoff(9))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(NewTransportError(CodeUnknown, nil)))
	assert.False(t, Retryable(errors.New("plain error")))
	assert.False(t, Retryable(nil))
}
