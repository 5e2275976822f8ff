package subjects

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilders(t *testing.T) {
	got, err := MarketData("acme", "SPY")
	require.NoError(t, err)
	assert.Equal(t, "market.acme.SPY", got)

	got, err = MarketDataWildcard("acme")
	require.NoError(t, err)
	assert.Equal(t, "market.acme.>", got)

	got, err = Signals("acme", "momo", "SPY")
	require.NoError(t, err)
	assert.Equal(t, "signals.acme.momo.SPY", got)

	got, err = SignalsV2("acme", "momo", "SPY")
	require.NoError(t, err)
	assert.Equal(t, "signals_v2.acme.momo.SPY", got)

	got, err = Orders("acme", "paper-01")
	require.NoError(t, err)
	assert.Equal(t, "orders.acme.paper-01", got)

	got, err = Fills("acme", "paper-01")
	require.NoError(t, err)
	assert.Equal(t, "fills.acme.paper-01", got)

	got, err = Ops("acme", "ingestor")
	require.NoError(t, err)
	assert.Equal(t, "ops.acme.ingestor", got)
}

func TestTokensAreTrimmed(t *testing.T) {
	got, err := MarketData("  acme ", " SPY ")
	require.NoError(t, err)
	assert.Equal(t, "market.acme.SPY", got)
}

func TestInvalidTokens(t *testing.T) {
	cases := []struct {
		name  string
		build func() (string, error)
		field string
	}{
		{"empty tenant", func() (string, error) { return MarketData("  ", "SPY") }, "tenant"},
		{"dot in symbol", func() (string, error) { return MarketData("acme", "BRK.B") }, "symbol"},
		{"star in strategy", func() (string, error) { return Signals("acme", "mo*mo", "SPY") }, "strategy"},
		{"gt in account", func() (string, error) { return Orders("acme", "a>b") }, "account"},
		{"empty service", func() (string, error) { return Ops("acme", "") }, "service"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			require.Error(t, err)
			var terr *TokenError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tc.field, terr.Field)
		})
	}
}
