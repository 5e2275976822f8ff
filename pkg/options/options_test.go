package options

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selToday = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func contract(symbol, expiration, strike string, right Right) Contract {
	return Contract{
		Symbol:         symbol,
		Underlying:     "SPY",
		ExpirationDate: expiration,
		Strike:         dec(strike),
		Right:          right,
	}
}

func quote(bid, ask string, bidSize, askSize, volume, oi int64) map[string]any {
	return map[string]any{
		"bid": bid, "ask": ask,
		"bid_size": bidSize, "ask_size": askSize,
		"volume": volume, "open_interest": oi,
		"snapshot_time": selToday.Format(time.RFC3339),
	}
}

func TestSelectTighterSpreadWinsAtSameDistance(t *testing.T) {
	// Spot 481.50, both strikes 0.50 away and 0DTE. The 482 quote has a
	// much tighter spread despite tiny sizes; spread outranks size.
	in := SelectInput{
		Underlying:      "SPY",
		Right:           Call,
		Today:           selToday,
		UnderlyingPrice: dec("481.50"),
		Chain: []Contract{
			contract("SPY260302C481", "2026-03-02", "481.0", Call),
			contract("SPY260302C482", "2026-03-02", "482.0", Call),
		},
		Snapshots: map[string]map[string]any{
			"SPY260302C481": quote("2.40", "2.60", 200, 300, 100, 500),
			"SPY260302C482": quote("2.00", "2.05", 1, 1, 5, 10),
		},
	}
	sel, err := Select(in)
	require.NoError(t, err)
	assert.Equal(t, "SPY260302C482", sel.Contract.Symbol)
	assert.Equal(t, 0, sel.DTE)
}

func TestSelectBiggerTotalSizeBreaksSpreadTie(t *testing.T) {
	in := SelectInput{
		Underlying:      "SPY",
		Right:           Call,
		Today:           selToday,
		UnderlyingPrice: dec("481.50"),
		Chain: []Contract{
			contract("B", "2026-03-02", "482.0", Call),
			contract("C", "2026-03-02", "481.0", Call),
		},
		Snapshots: map[string]map[string]any{
			"B": quote("2.00", "2.10", 500, 500, 100, 100),
			"C": quote("2.00", "2.10", 10, 10, 100, 100),
		},
	}
	sel, err := Select(in)
	require.NoError(t, err)
	assert.Equal(t, "B", sel.Contract.Symbol)
}

func TestSelectDTEThenOTMBiasThenSymbol(t *testing.T) {
	snapshots := map[string]map[string]any{
		"A0": quote("2.00", "2.10", 100, 100, 100, 100),
		"A1": quote("2.00", "2.10", 100, 100, 100, 100),
	}

	// Identical liquidity, 0DTE beats 1DTE.
	sel, err := Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.00"),
		Chain: []Contract{
			contract("A1", "2026-03-03", "481.0", Call),
			contract("A0", "2026-03-02", "481.0", Call),
		},
		Snapshots: snapshots,
	})
	require.NoError(t, err)
	assert.Equal(t, "A0", sel.Contract.Symbol)

	// Equidistant strikes, same dte and liquidity: the slightly-OTM call
	// (strike above spot) wins.
	sel, err = Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.50"),
		Chain: []Contract{
			contract("A0", "2026-03-02", "481.0", Call), // ITM
			contract("A1", "2026-03-02", "482.0", Call), // OTM
		},
		Snapshots: snapshots,
	})
	require.NoError(t, err)
	assert.Equal(t, "A1", sel.Contract.Symbol)

	// Full tie: lexicographic symbol.
	sel, err = Select(SelectInput{
		Underlying: "SPY", Right: Put, Today: selToday,
		UnderlyingPrice: dec("481.00"),
		Chain: []Contract{
			contract("A1", "2026-03-02", "481.0", Put),
			contract("A0", "2026-03-02", "481.0", Put),
		},
		Snapshots: snapshots,
	})
	require.NoError(t, err)
	assert.Equal(t, "A0", sel.Contract.Symbol)
}

func TestSelectFiltersRightUnderlyingAndDTE(t *testing.T) {
	in := SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.00"),
		Chain: []Contract{
			contract("PUT", "2026-03-02", "481.0", Put),
			{Symbol: "QQQ1", Underlying: "QQQ", ExpirationDate: "2026-03-02", Strike: dec("481.0"), Right: Call},
			contract("FAR", "2026-03-10", "481.0", Call),
			contract("EXPIRED", "2026-03-01", "481.0", Call),
			contract("OK", "2026-03-03", "481.0", Call),
		},
		Snapshots: map[string]map[string]any{
			"OK": quote("2.00", "2.10", 100, 100, 100, 100),
		},
	}
	sel, err := Select(in)
	require.NoError(t, err)
	assert.Equal(t, "OK", sel.Contract.Symbol)
	assert.Equal(t, 1, sel.DTE)
}

func TestSelectTypedErrors(t *testing.T) {
	_, err := Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.00"),
	})
	assert.ErrorIs(t, err, ErrEmptyChain)

	_, err = Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.00"),
		Chain:           []Contract{contract("A0", "2026-03-02", "481.0", Call)},
	})
	assert.ErrorIs(t, err, ErrNoQuotedATM)

	_, err = Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: decimal.Zero,
		Chain:           []Contract{contract("A0", "2026-03-02", "481.0", Call)},
	})
	assert.ErrorIs(t, err, ErrNoSpotPrice)
}

func TestSelectMissingMetricsRankAfterKnown(t *testing.T) {
	// A quote with no size fields must lose to one reporting zero-adjacent
	// but known sizes at the same spread.
	in := SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.00"),
		Chain: []Contract{
			contract("KNOWN", "2026-03-02", "481.0", Call),
			contract("UNKNOWN", "2026-03-02", "481.0", Call),
		},
		Snapshots: map[string]map[string]any{
			"KNOWN": quote("2.00", "2.10", 1, 0, 1, 1),
			"UNKNOWN": {
				"bid": "2.00", "ask": "2.10",
				"snapshot_time": selToday.Format(time.RFC3339),
			},
		},
	}
	sel, err := Select(in)
	require.NoError(t, err)
	assert.Equal(t, "KNOWN", sel.Contract.Symbol)
}

func TestSelectionIsPermutationStable(t *testing.T) {
	chain := []Contract{
		contract("A", "2026-03-02", "480.0", Call),
		contract("B", "2026-03-02", "481.0", Call),
		contract("C", "2026-03-03", "481.0", Call),
		contract("D", "2026-03-02", "482.0", Call),
		contract("E", "2026-03-03", "482.0", Call),
	}
	snapshots := map[string]map[string]any{
		"A": quote("1.00", "1.10", 50, 50, 10, 20),
		"B": quote("2.00", "2.10", 100, 100, 100, 100),
		"C": quote("2.00", "2.04", 10, 10, 5, 5),
		"D": quote("2.00", "2.10", 100, 100, 100, 100),
		"E": quote("2.00", "2.30", 400, 400, 900, 900),
	}

	base, err := Select(SelectInput{
		Underlying: "SPY", Right: Call, Today: selToday,
		UnderlyingPrice: dec("481.50"),
		Chain:           chain, Snapshots: snapshots,
	})
	require.NoError(t, err)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("chain order never changes the winner", prop.ForAll(
		func(perm []int) bool {
			shuffled := make([]Contract, len(chain))
			for i, j := range perm {
				shuffled[i] = chain[j]
			}
			got, err := Select(SelectInput{
				Underlying: "SPY", Right: Call, Today: selToday,
				UnderlyingPrice: dec("481.50"),
				Chain:           shuffled, Snapshots: snapshots,
			})
			return err == nil && got.Contract.Symbol == base.Contract.Symbol
		},
		genPermutation(len(chain)),
	))
	properties.TestingRun(t)
}

// genPermutation generates permutations of [0,n) via random sort keys.
func genPermutation(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.Int64()).Map(func(keys []int64) []int {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		for i := n - 1; i > 0; i-- {
			j := int(uint64(keys[i]) % uint64(i+1))
			perm[i], perm[j] = perm[j], perm[i]
		}
		return perm
	})
}

func TestParseQuoteAliasesAndShapes(t *testing.T) {
	q := ParseQuote(map[string]any{
		"bp": 2.00, "ap": "2.10",
		"bs": float64(5), "as": 7,
		"v": "120", "oi": int64(900),
		"t": float64(selToday.Unix()),
	})
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.True(t, q.Bid.Equal(dec("2")))
	assert.True(t, q.Ask.Equal(dec("2.10")))
	require.NotNil(t, q.TotalSize())
	assert.Equal(t, int64(12), *q.TotalSize())
	assert.Equal(t, int64(120), *q.Volume)
	assert.Equal(t, int64(900), *q.OpenInterest)
	require.NotNil(t, q.SnapshotTime)
	assert.Equal(t, selToday.Truncate(time.Second), *q.SnapshotTime)

	nested := ParseQuote(map[string]any{
		"quote": map[string]any{"bid": 1.0, "ask": 1.5},
	})
	require.NotNil(t, nested.Bid)
	require.NotNil(t, nested.Ask)

	garbage := ParseQuote(map[string]any{"bid": "n/a", "volume": -3, "ask": nil})
	assert.Nil(t, garbage.Bid, "unparseable is absent, not zero")
	assert.Nil(t, garbage.Volume, "negative counts are absent")
	assert.Nil(t, garbage.Mid())
	assert.Nil(t, garbage.RelSpread())
}

func TestEvaluateHedgeGateOrder(t *testing.T) {
	good := contract("SPY260302P480", "2026-03-02", "480.0", Put)
	goodQuote := func() map[string]any {
		return quote("2.00", "2.05", 100, 100, 200, 500)
	}

	cases := []struct {
		name   string
		mutate func(c *Contract, raw map[string]any)
		want   HoldReason
	}{
		{"no symbol", func(c *Contract, _ map[string]any) { c.Symbol = "" }, HoldMissingContractSymbol},
		{"no expiration", func(c *Contract, _ map[string]any) { c.ExpirationDate = "" }, HoldMissingExpiration},
		{"no strike", func(c *Contract, _ map[string]any) { c.Strike = decimal.Zero }, HoldMissingStrike},
		{"no right", func(c *Contract, _ map[string]any) { c.Right = "" }, HoldMissingRight},
		{"call not put", func(c *Contract, _ map[string]any) { c.Right = Call }, HoldWrongRight},
		{"too far out", func(c *Contract, _ map[string]any) { c.ExpirationDate = "2026-03-10" }, HoldDTENotAllowed},
		{"no quote ts", func(_ *Contract, raw map[string]any) { delete(raw, "snapshot_time") }, HoldMissingQuoteTS},
		{"future quote", func(_ *Contract, raw map[string]any) {
			raw["snapshot_time"] = selToday.Add(time.Minute).Format(time.RFC3339)
		}, HoldQuoteFromFuture},
		{"stale quote", func(_ *Contract, raw map[string]any) {
			raw["snapshot_time"] = selToday.Add(-5 * time.Minute).Format(time.RFC3339)
		}, HoldStaleQuote},
		{"no ask", func(_ *Contract, raw map[string]any) { delete(raw, "ask") }, HoldMissingBidAsk},
		{"negative bid", func(_ *Contract, raw map[string]any) { raw["bid"] = "-1" }, HoldInvalidBidAsk},
		{"crossed", func(_ *Contract, raw map[string]any) { raw["bid"] = "3.00" }, HoldNonMarketableBidAsk},
		{"zero bid", func(_ *Contract, raw map[string]any) { raw["bid"] = "0" }, HoldNonMarketableBidAsk},
		{"wide spread", func(_ *Contract, raw map[string]any) { raw["ask"] = "2.50" }, HoldWideSpread},
		{"thin oi", func(_ *Contract, raw map[string]any) { raw["open_interest"] = 3 }, HoldLowOpenInterest},
		{"thin volume", func(_ *Contract, raw map[string]any) { raw["volume"] = 1 }, HoldLowVolume},
		{"no liquidity fields", func(_ *Contract, raw map[string]any) {
			delete(raw, "open_interest")
			delete(raw, "volume")
		}, HoldUnknownLiquidity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, raw := good, goodQuote()
			tc.mutate(&c, raw)
			v := EvaluateHedge(c, raw, Put, selToday, HedgeGates{})
			assert.False(t, v.Proceed)
			assert.Equal(t, tc.want, v.Reason)
		})
	}

	v := EvaluateHedge(good, goodQuote(), Put, selToday, HedgeGates{})
	assert.True(t, v.Proceed)
	assert.Empty(t, v.Reason)
	assert.Equal(t, 0, v.DTE)
}
