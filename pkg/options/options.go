// Package options ranks option chain snapshots deterministically. Given
// the same chain and the same quotes, Select returns the same contract on
// every run and on every host; the symbol is the final tiebreak so no two
// candidates ever compare equal.
package options

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Right is an option right.
type Right string

const (
	Call Right = "CALL"
	Put  Right = "PUT"
)

// DefaultDTEMax keeps selection on same-day and next-day expiries.
const DefaultDTEMax = 1

// atmTolerance absorbs float noise when grouping strikes into the
// nearest-ATM set.
var atmTolerance = decimal.RequireFromString("0.0001")

// Contract identifies one listed option.
type Contract struct {
	Symbol         string          `json:"symbol"`
	Underlying     string          `json:"underlying"`
	ExpirationDate string          `json:"expiration_date"` // YYYY-MM-DD
	Strike         decimal.Decimal `json:"strike"`
	Right          Right           `json:"right"`
}

// DTE returns days-to-expiry relative to today (both date-granular), or an
// error for an unparseable expiration.
func (c Contract) DTE(today time.Time) (int, error) {
	exp, err := time.Parse("2006-01-02", c.ExpirationDate)
	if err != nil {
		return 0, fmt.Errorf("contract %s: expiration %q: %w", c.Symbol, c.ExpirationDate, err)
	}
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(exp.Sub(t).Hours() / 24), nil
}

// QuoteMetrics are the liquidity measurements for one contract snapshot.
// Pointer fields distinguish "not present in the snapshot" from zero; a
// quote with no volume field is unknown, not illiquid.
type QuoteMetrics struct {
	Bid          *decimal.Decimal `json:"bid,omitempty"`
	Ask          *decimal.Decimal `json:"ask,omitempty"`
	BidSize      *int64           `json:"bid_size,omitempty"`
	AskSize      *int64           `json:"ask_size,omitempty"`
	Volume       *int64           `json:"volume,omitempty"`
	OpenInterest *int64           `json:"open_interest,omitempty"`
	SnapshotTime *time.Time       `json:"snapshot_time,omitempty"`
}

// Mid is (bid+ask)/2, or nil when either side is missing.
func (q QuoteMetrics) Mid() *decimal.Decimal {
	if q.Bid == nil || q.Ask == nil {
		return nil
	}
	mid := q.Bid.Add(*q.Ask).Div(decimal.NewFromInt(2))
	return &mid
}

// Spread is ask-bid, or nil when either side is missing.
func (q QuoteMetrics) Spread() *decimal.Decimal {
	if q.Bid == nil || q.Ask == nil {
		return nil
	}
	s := q.Ask.Sub(*q.Bid)
	return &s
}

// RelSpread is spread/mid, or nil when undefined (missing sides or
// non-positive mid).
func (q QuoteMetrics) RelSpread() *decimal.Decimal {
	spread, mid := q.Spread(), q.Mid()
	if spread == nil || mid == nil || !mid.IsPositive() {
		return nil
	}
	rs := spread.Div(*mid)
	return &rs
}

// TotalSize is bid_size+ask_size, or nil when both are missing. One known
// side counts alone.
func (q QuoteMetrics) TotalSize() *int64 {
	if q.BidSize == nil && q.AskSize == nil {
		return nil
	}
	var total int64
	if q.BidSize != nil {
		total += *q.BidSize
	}
	if q.AskSize != nil {
		total += *q.AskSize
	}
	return &total
}

// Selected is the winning contract with everything the caller needs to
// audit the choice.
type Selected struct {
	Contract        Contract        `json:"contract"`
	Quote           QuoteMetrics    `json:"quote"`
	DTE             int             `json:"dte"`
	UnderlyingPrice decimal.Decimal `json:"underlying_price"`
	RawSnapshot     map[string]any  `json:"raw_snapshot,omitempty"`
}

// SelectInput carries the chain and the quote snapshots for one selection.
type SelectInput struct {
	Underlying      string
	Right           Right
	Today           time.Time
	UnderlyingPrice decimal.Decimal
	Chain           []Contract
	// Snapshots maps contract symbol to the raw quote payload; shapes vary
	// by vendor and are parsed permissively.
	Snapshots map[string]map[string]any
	// DTEMax defaults to DefaultDTEMax when zero.
	DTEMax int
}

// Typed selection failures.
var (
	ErrEmptyChain     = errors.New("options: no contracts match underlying, right, and dte window")
	ErrNoQuotedATM    = errors.New("options: no snapshots for any at-the-money candidate")
	ErrNoSpotPrice    = errors.New("options: underlying price must be positive")
	ErrMissingSymbols = errors.New("options: chain contracts must carry symbols")
)

type candidate struct {
	contract Contract
	quote    QuoteMetrics
	raw      map[string]any
	dte      int
	atmDist  decimal.Decimal
}

// Select ranks the chain and returns the single best contract. Pure: no
// clock reads, no I/O, no randomness.
func Select(in SelectInput) (*Selected, error) {
	if !in.UnderlyingPrice.IsPositive() {
		return nil, ErrNoSpotPrice
	}
	dteMax := in.DTEMax
	if dteMax <= 0 {
		dteMax = DefaultDTEMax
	}

	var pool []candidate
	for _, c := range in.Chain {
		if c.Symbol == "" {
			return nil, ErrMissingSymbols
		}
		if c.Underlying != in.Underlying || c.Right != in.Right {
			continue
		}
		dte, err := c.DTE(in.Today)
		if err != nil || dte < 0 || dte > dteMax {
			continue
		}
		pool = append(pool, candidate{
			contract: c,
			dte:      dte,
			atmDist:  c.Strike.Sub(in.UnderlyingPrice).Abs(),
		})
	}
	if len(pool) == 0 {
		return nil, ErrEmptyChain
	}

	// Nearest-ATM set within tolerance.
	minDist := pool[0].atmDist
	for _, c := range pool[1:] {
		if c.atmDist.LessThan(minDist) {
			minDist = c.atmDist
		}
	}
	var atm []candidate
	for _, c := range pool {
		if c.atmDist.Sub(minDist).LessThanOrEqual(atmTolerance) {
			atm = append(atm, c)
		}
	}

	var quoted []candidate
	for _, c := range atm {
		raw, ok := in.Snapshots[c.contract.Symbol]
		if !ok {
			continue
		}
		c.quote = ParseQuote(raw)
		c.raw = raw
		quoted = append(quoted, c)
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("%w: %d candidate(s) at strike distance %s",
			ErrNoQuotedATM, len(atm), minDist.String())
	}

	sort.Slice(quoted, func(i, j int) bool {
		return rankLess(quoted[i], quoted[j], in.UnderlyingPrice, in.Right)
	})

	best := quoted[0]
	return &Selected{
		Contract:        best.contract,
		Quote:           best.quote,
		DTE:             best.dte,
		UnderlyingPrice: in.UnderlyingPrice,
		RawSnapshot:     best.raw,
	}, nil
}

// rankLess orders candidates ascending by the selection key: strike
// distance, relative spread (missing sorts last), total size descending,
// volume descending, open interest descending, dte, OTM bias, symbol.
func rankLess(a, b candidate, spot decimal.Decimal, right Right) bool {
	if c := a.atmDist.Cmp(b.atmDist); c != 0 {
		return c < 0
	}
	if c := cmpDecimalPtrAsc(a.quote.RelSpread(), b.quote.RelSpread()); c != 0 {
		return c < 0
	}
	if c := cmpInt64PtrDesc(a.quote.TotalSize(), b.quote.TotalSize()); c != 0 {
		return c < 0
	}
	if c := cmpInt64PtrDesc(a.quote.Volume, b.quote.Volume); c != 0 {
		return c < 0
	}
	if c := cmpInt64PtrDesc(a.quote.OpenInterest, b.quote.OpenInterest); c != 0 {
		return c < 0
	}
	if a.dte != b.dte {
		return a.dte < b.dte
	}
	if ba, bb := otmBias(a.contract.Strike, spot, right), otmBias(b.contract.Strike, spot, right); ba != bb {
		return ba < bb
	}
	return a.contract.Symbol < b.contract.Symbol
}

// otmBias prefers the slightly out-of-the-money side on an exact distance
// tie: at-or-above spot for calls, at-or-below for puts.
func otmBias(strike, spot decimal.Decimal, right Right) int {
	if right == Call {
		if strike.GreaterThanOrEqual(spot) {
			return 0
		}
		return 1
	}
	if strike.LessThanOrEqual(spot) {
		return 0
	}
	return 1
}

// cmpDecimalPtrAsc: nil ranks after any value (missing rel-spread is
// treated as infinitely wide).
func cmpDecimalPtrAsc(a, b *decimal.Decimal) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Cmp(*b)
	}
}

// cmpInt64PtrDesc: larger values rank first; nil ranks after zero (unknown
// liquidity is worse than measured-zero liquidity).
func cmpInt64PtrDesc(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	default:
		return 0
	}
}
