package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledProviderIsInert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	ctx, done := p.TrackOperation(context.Background(), "decide",
		attribute.String("tenant", "tenant-a"))
	assert.NotNil(t, ctx)
	done(errors.New("boom"))

	p.RecordError(context.Background(), errors.New("boom"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilConfigUsesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "agent-trader", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}

func TestSpansWorkWithoutProvider(t *testing.T) {
	p := &Provider{config: DefaultConfig()}
	ctx, span := p.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.End()
}
