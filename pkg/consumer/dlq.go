package consumer

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/redact"
)

// DefaultDLQSampleBps samples 5% of permanently failed messages.
const DefaultDLQSampleBps = 500

// DefaultDLQSampleTTL is how long a sample is meant to be retained; the
// TTL travels on the document for whatever sweeps the collection.
const DefaultDLQSampleTTL = 7 * 24 * time.Hour

// maxDLQPayloadBytes bounds the payload subset stored with a sample.
const maxDLQPayloadBytes = 4096

// DLQSampler decides deterministically which failed messages leave a
// sample document behind. The decision is a pure function of the
// messageId: a retry of the same message always makes the same choice.
type DLQSampler struct {
	store     docstore.Store
	sampleBps uint32
	ttl       time.Duration
	clock     func() time.Time
}

// NewDLQSampler creates a sampler writing through store. sampleBps is the
// sampled fraction in basis points (0..10000); zero takes the default.
func NewDLQSampler(store docstore.Store, sampleBps uint32, ttl time.Duration) *DLQSampler {
	if sampleBps == 0 {
		sampleBps = DefaultDLQSampleBps
	}
	if sampleBps > 10000 {
		sampleBps = 10000
	}
	if ttl <= 0 {
		ttl = DefaultDLQSampleTTL
	}
	return &DLQSampler{store: store, sampleBps: sampleBps, ttl: ttl, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (s *DLQSampler) WithClock(clock func() time.Time) *DLQSampler {
	s.clock = clock
	return s
}

// ShouldSample hashes the messageId into basis points.
func (s *DLQSampler) ShouldSample(messageID string) bool {
	return sampleBasisPoints(messageID) < s.sampleBps
}

func sampleBasisPoints(messageID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return h.Sum32() % 10000
}

// Record writes the sample document for a permanently failed message when
// the message falls in the sampled fraction. Attributes are redacted
// before persistence.
func (s *DLQSampler) Record(ctx context.Context, msg Message, topic, handler, reason string) (bool, error) {
	if !s.ShouldSample(msg.ID) {
		return false, nil
	}

	payload := msg.Data
	truncated := false
	if len(payload) > maxDLQPayloadBytes {
		payload = payload[:maxDLQPayloadBytes]
		truncated = true
	}

	attrs := map[string]any{}
	for k, v := range msg.Attributes {
		attrs[k] = v
	}

	now := s.clock().UTC()
	doc := docstore.Doc{
		"message_id":        msg.ID,
		"topic":             topic,
		"handler":           handler,
		"reason":            reason,
		"attributes":        redact.Map(attrs),
		"payload":           string(payload),
		"payload_truncated": truncated,
		"publish_time":      msg.PublishTime.UTC().Format(time.RFC3339Nano),
		"sampled_at":        now.Format(time.RFC3339Nano),
		"expires_at":        now.Add(s.ttl).Format(time.RFC3339Nano),
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(CollectionDLQSamples, NormalizeDocID(msg.ID), doc)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
