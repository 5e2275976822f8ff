package proposal

import (
	"fmt"
	"time"
)

// modeLive is the only agent mode under which a proposal may keep
// requires_human_approval=false. Any other mode normalizes it to true.
const modeLive = "LIVE"

// ValidatorOptions configure the optional guards of Validate.
type ValidatorOptions struct {
	// AgentMode is the running agent's mode (OBSERVE, LIVE, ...). Non-LIVE
	// modes force requires_human_approval=true on the validated copy.
	AgentMode string
	// AllowedSymbols, when non-empty, is an allow-list the proposal symbol
	// must appear in.
	AllowedSymbols []string
	// Policy, when set, is an additional compiled policy expression the
	// proposal must satisfy.
	Policy *Policy
	// Now overrides the clock for deterministic validation.
	Now func() time.Time
}

// ValidationResult aggregates every failure of one proposal. Valid means
// zero errors; the Proposal field is the normalized copy callers must use
// from here on.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Proposal Proposal `json:"-"`
}

// Validate checks a proposal fail-closed and returns the aggregated error
// list plus the normalized copy. It never mutates its input.
func Validate(p Proposal, opts ValidatorOptions) ValidationResult {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	nowUTC := now().UTC()

	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if p.Status != StatusProposed {
		add("status must be %s on emit, got %s", StatusProposed, p.Status)
	}
	if p.Quantity <= 0 {
		add("quantity must be > 0, got %v", p.Quantity)
	}
	if p.LimitPrice != nil && *p.LimitPrice <= 0 {
		add("limit_price must be > 0 when present, got %v", *p.LimitPrice)
	}
	switch p.TimeInForce {
	case TIFDay, TIFGTC, TIFIOC:
	default:
		add("time_in_force must be one of DAY, GTC, IOC, got %q", p.TimeInForce)
	}
	switch p.Side {
	case SideBuy, SideSell:
	default:
		add("side must be BUY or SELL, got %q", p.Side)
	}
	if p.Rationale.ShortReason == "" {
		add("rationale.short_reason must be non-empty")
	}

	if p.Constraints.ValidUntilUTC.IsZero() {
		add("constraints.valid_until_utc is required and must be UTC-aware")
	} else if !p.Constraints.ValidUntilUTC.After(nowUTC) {
		add("constraints.valid_until_utc %s is not in the future (now %s)",
			p.Constraints.ValidUntilUTC.UTC().Format(time.RFC3339), nowUTC.Format(time.RFC3339))
	}

	switch p.AssetType {
	case AssetOption:
		if p.Option == nil {
			add("asset_type OPTION requires the option block")
		} else {
			if p.Option.Expiration == "" {
				add("option.expiration is required")
			}
			if p.Option.Right != RightCall && p.Option.Right != RightPut {
				add("option.right must be CALL or PUT, got %q", p.Option.Right)
			}
			if p.Option.Strike <= 0 {
				add("option.strike must be > 0, got %v", p.Option.Strike)
			}
		}
	case AssetEquity, AssetFuture:
	default:
		add("asset_type must be one of OPTION, EQUITY, FUTURE, got %q", p.AssetType)
	}

	if len(opts.AllowedSymbols) > 0 && !contains(opts.AllowedSymbols, p.Symbol) {
		add("symbol %q is not in the configured allow-list", p.Symbol)
	}

	if opts.Policy != nil {
		allowed, err := opts.Policy.Allow(&p)
		if err != nil {
			add("policy evaluation failed: %v", err)
		} else if !allowed {
			add("symbol policy rejected proposal for %q", p.Symbol)
		}
	}

	normalized := p
	if opts.AgentMode != modeLive {
		// Normalize, not reject: outside LIVE the platform insists on a
		// human in the loop regardless of what the strategy asked for.
		normalized.Constraints.RequiresHumanApproval = true
	}

	return ValidationResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Proposal: normalized,
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
