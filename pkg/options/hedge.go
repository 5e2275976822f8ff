package options

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldReason explains why a hedge intent must hold instead of proceeding.
type HoldReason string

const (
	HoldMissingContractSymbol HoldReason = "missing_contract_symbol"
	HoldMissingExpiration     HoldReason = "missing_expiration"
	HoldMissingStrike         HoldReason = "missing_strike"
	HoldMissingRight          HoldReason = "missing_right"
	HoldWrongRight            HoldReason = "wrong_right"
	HoldDTENotAllowed         HoldReason = "dte_not_allowed"
	HoldMissingQuoteTS        HoldReason = "missing_quote_ts"
	HoldStaleQuote            HoldReason = "stale_quote"
	HoldQuoteFromFuture       HoldReason = "quote_from_future"
	HoldMissingBidAsk         HoldReason = "missing_bid_ask"
	HoldInvalidBidAsk         HoldReason = "invalid_bid_ask"
	HoldNonMarketableBidAsk   HoldReason = "non_marketable_bid_ask"
	HoldInvalidMid            HoldReason = "invalid_mid"
	HoldWideSpread            HoldReason = "wide_spread"
	HoldLowOpenInterest       HoldReason = "low_open_interest"
	HoldLowVolume             HoldReason = "low_volume"
	HoldUnknownLiquidity      HoldReason = "unknown_liquidity"
)

// Hedge gate defaults. Hedging trades real tail risk, so the gates are
// tighter than the general selector, which merely ranks.
var (
	DefaultMaxQuoteAge  = 60 * time.Second
	DefaultMaxRelSpread = decimal.RequireFromString("0.05")
)

const (
	DefaultMinOpenInterest int64 = 100
	DefaultMinVolume       int64 = 10
)

// HedgeGates are the hard liquidity requirements for a hedge contract.
// Zero values take the defaults above.
type HedgeGates struct {
	DTEMax          int
	MaxQuoteAge     time.Duration
	MaxRelSpread    decimal.Decimal
	MinOpenInterest int64
	MinVolume       int64
}

func (g HedgeGates) withDefaults() HedgeGates {
	if g.DTEMax <= 0 {
		g.DTEMax = DefaultDTEMax
	}
	if g.MaxQuoteAge <= 0 {
		g.MaxQuoteAge = DefaultMaxQuoteAge
	}
	if !g.MaxRelSpread.IsPositive() {
		g.MaxRelSpread = DefaultMaxRelSpread
	}
	if g.MinOpenInterest <= 0 {
		g.MinOpenInterest = DefaultMinOpenInterest
	}
	if g.MinVolume <= 0 {
		g.MinVolume = DefaultMinVolume
	}
	return g
}

// HedgeVerdict is either a proceed with the evaluated contract or a HOLD
// carrying exactly one reason, the first gate that failed.
type HedgeVerdict struct {
	Proceed  bool         `json:"proceed"`
	Reason   HoldReason   `json:"reason,omitempty"`
	Contract Contract     `json:"contract"`
	Quote    QuoteMetrics `json:"quote"`
	DTE      int          `json:"dte"`
}

func hold(c Contract, q QuoteMetrics, dte int, reason HoldReason) HedgeVerdict {
	return HedgeVerdict{Reason: reason, Contract: c, Quote: q, DTE: dte}
}

// EvaluateHedge applies the hard gates to one resolved contract and its
// raw quote snapshot. Gates run in a fixed order and the first failure
// wins; a verdict is never built from partially-checked state.
func EvaluateHedge(c Contract, raw map[string]any, wantRight Right, now time.Time, gates HedgeGates) HedgeVerdict {
	g := gates.withDefaults()
	nowUTC := now.UTC()

	if c.Symbol == "" {
		return hold(c, QuoteMetrics{}, 0, HoldMissingContractSymbol)
	}
	if c.ExpirationDate == "" {
		return hold(c, QuoteMetrics{}, 0, HoldMissingExpiration)
	}
	if !c.Strike.IsPositive() {
		return hold(c, QuoteMetrics{}, 0, HoldMissingStrike)
	}
	if c.Right == "" {
		return hold(c, QuoteMetrics{}, 0, HoldMissingRight)
	}
	if c.Right != wantRight {
		return hold(c, QuoteMetrics{}, 0, HoldWrongRight)
	}

	dte, err := c.DTE(nowUTC)
	if err != nil || dte < 0 || dte > g.DTEMax {
		return hold(c, QuoteMetrics{}, dte, HoldDTENotAllowed)
	}

	q := ParseQuote(raw)
	if q.SnapshotTime == nil {
		return hold(c, q, dte, HoldMissingQuoteTS)
	}
	if q.SnapshotTime.After(nowUTC) {
		return hold(c, q, dte, HoldQuoteFromFuture)
	}
	if nowUTC.Sub(*q.SnapshotTime) > g.MaxQuoteAge {
		return hold(c, q, dte, HoldStaleQuote)
	}

	if q.Bid == nil || q.Ask == nil {
		return hold(c, q, dte, HoldMissingBidAsk)
	}
	if q.Bid.IsNegative() || !q.Ask.IsPositive() {
		return hold(c, q, dte, HoldInvalidBidAsk)
	}
	if !q.Bid.IsPositive() || q.Ask.LessThan(*q.Bid) {
		return hold(c, q, dte, HoldNonMarketableBidAsk)
	}
	mid := q.Mid()
	if mid == nil || !mid.IsPositive() {
		return hold(c, q, dte, HoldInvalidMid)
	}
	if rs := q.RelSpread(); rs == nil || rs.GreaterThan(g.MaxRelSpread) {
		return hold(c, q, dte, HoldWideSpread)
	}

	if q.OpenInterest == nil && q.Volume == nil {
		return hold(c, q, dte, HoldUnknownLiquidity)
	}
	if q.OpenInterest != nil && *q.OpenInterest < g.MinOpenInterest {
		return hold(c, q, dte, HoldLowOpenInterest)
	}
	if q.Volume != nil && *q.Volume < g.MinVolume {
		return hold(c, q, dte, HoldLowVolume)
	}

	return HedgeVerdict{Proceed: true, Contract: c, Quote: q, DTE: dte}
}
