// Package watchdog sweeps recent shadow trades per tenant and halts
// tenants that are visibly bleeding. It is the only writer of the
// kill-switch; the execution decider only reads it.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/shadow"
)

// Detection window and thresholds.
const (
	WindowDuration  = 10 * time.Minute
	WindowCap       = 100
	LosingStreakMin = 5
	BuyStreakMin    = 3
)

// Collections the watchdog writes.
const (
	CollectionAgentStatus = "ops_agent_status"
	CollectionAlerts      = "ops_alerts"
	// CollectionRegime holds the global market regime document at id
	// "global"; a negative gammaExposure there marks a short-gamma tape.
	CollectionRegime = "market_regime"
	regimeDocID      = "global"
)

// lossThresholdPct: a trade counts as a loss below -0.5% PnL.
var lossThresholdPct = decimal.RequireFromString("-0.5")

// drawdownRatio: |total pnl| over total cost basis at or above 5% halts.
var drawdownRatio = decimal.RequireFromString("0.05")

// Finding kinds.
const (
	KindLosingStreak   = "losing_streak"
	KindRapidDrawdown  = "rapid_drawdown"
	KindRegimeMismatch = "market_condition_mismatch"
)

// Severities, ordered.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
)

// Finding is one detection for one tenant.
type Finding struct {
	Tenant      string         `json:"tenant"`
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	Halt        bool           `json:"halt"`
	Explanation string         `json:"explanation"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// trade is the slice of a shadow record the detectors care about, parsed
// permissively because enrichment writes PnL fields after the fact.
type trade struct {
	createdAt  time.Time
	action     string
	pnlPercent *decimal.Decimal
	pnl        *decimal.Decimal
	costBasis  *decimal.Decimal
}

// Watchdog runs detections and acts on findings.
type Watchdog struct {
	store      docstore.Store
	killSwitch safety.KillSwitchStore
	intents    *audit.IntentLog
	logger     *slog.Logger
	clock      func() time.Time
}

// New builds a watchdog over the shared document store and kill-switch.
func New(store docstore.Store, killSwitch safety.KillSwitchStore, intents *audit.IntentLog, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default().With("component", "watchdog")
	}
	if intents == nil {
		intents = audit.NewIntentLog(nil)
	}
	return &Watchdog{
		store:      store,
		killSwitch: killSwitch,
		intents:    intents,
		logger:     logger,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (w *Watchdog) WithClock(clock func() time.Time) *Watchdog {
	w.clock = clock
	return w
}

// Sweep checks every tenant once and acts on what it finds.
func (w *Watchdog) Sweep(ctx context.Context, tenants []string) ([]Finding, error) {
	var all []Finding
	for _, tenant := range tenants {
		findings, err := w.CheckTenant(ctx, tenant)
		if err != nil {
			return all, fmt.Errorf("watchdog: tenant %s: %w", tenant, err)
		}
		all = append(all, findings...)
	}
	return all, nil
}

// Run sweeps on a fixed interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context, tenants []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.Sweep(ctx, tenants); err != nil {
			w.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CheckTenant runs all detections for one tenant and applies the
// consequences. A tenant whose kill-switch is already engaged is skipped
// entirely.
func (w *Watchdog) CheckTenant(ctx context.Context, tenant string) ([]Finding, error) {
	state, err := w.killSwitch.State(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("read kill-switch: %w", err)
	}
	if state.Engaged {
		w.logger.Debug("tenant already halted, skipping", "tenant", tenant)
		return nil, nil
	}

	trades, err := w.loadWindow(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	var findings []Finding
	if f := detectLosingStreak(tenant, trades); f != nil {
		findings = append(findings, *f)
	}
	if f := detectRapidDrawdown(tenant, trades); f != nil {
		findings = append(findings, *f)
	}
	if f, err := w.detectRegimeMismatch(ctx, tenant, trades); err != nil {
		return nil, err
	} else if f != nil {
		findings = append(findings, *f)
	}

	for _, f := range findings {
		if err := w.act(ctx, f); err != nil {
			return findings, err
		}
		// One halt is enough; the tenant is now disabled.
		if f.Halt {
			break
		}
	}
	return findings, nil
}

// loadWindow returns the tenant's shadow trades from the last
// WindowDuration, oldest first, capped at WindowCap.
func (w *Watchdog) loadWindow(ctx context.Context, tenant string) ([]trade, error) {
	docs, err := w.store.List(ctx, shadow.Collection, 0)
	if err != nil {
		return nil, fmt.Errorf("list shadow trades: %w", err)
	}
	cutoff := w.clock().UTC().Add(-WindowDuration)

	var trades []trade
	for _, doc := range docs { // newest first
		if s, _ := doc["tenant"].(string); s != tenant {
			continue
		}
		t, ok := parseTrade(doc)
		if !ok || t.createdAt.Before(cutoff) {
			continue
		}
		trades = append(trades, t)
		if len(trades) == WindowCap {
			break
		}
	}
	// Detectors reason in time order.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// act writes the consequences of a finding: alert doc always, plus
// kill-switch + status doc for halting severities.
func (w *Watchdog) act(ctx context.Context, f Finding) error {
	now := w.clock().UTC()
	alertID := uuid.NewString()

	err := w.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		alert := docstore.Doc{
			"alert_id":       alertID,
			"tenant":         f.Tenant,
			"kind":           f.Kind,
			"severity":       f.Severity,
			"priority":       alertPriority(f.Severity),
			"explanation":    f.Explanation,
			"evidence":       f.Evidence,
			"created_at_utc": now.Format(time.RFC3339Nano),
		}
		if err := tx.Create(CollectionAlerts, alertID, alert); err != nil {
			return fmt.Errorf("write alert: %w", err)
		}
		if !f.Halt {
			return nil
		}
		status := docstore.Doc{
			"tenant":          f.Tenant,
			"enabled":         false,
			"reason":          f.Kind,
			"severity":        f.Severity,
			"explanation":     f.Explanation,
			"disabled_at_utc": now.Format(time.RFC3339Nano),
		}
		return tx.Set(CollectionAgentStatus, f.Tenant, status)
	})
	if err != nil {
		return err
	}

	if f.Halt {
		if err := w.killSwitch.Engage(ctx, f.Tenant, f.Kind, f.Severity, f.Explanation); err != nil {
			return fmt.Errorf("engage kill-switch: %w", err)
		}
		w.intents.Emit(audit.IntentKillSwitchEngaged, map[string]any{
			"tenant":      f.Tenant,
			"reason":      f.Kind,
			"severity":    f.Severity,
			"explanation": f.Explanation,
			"alert_id":    alertID,
		})
		w.logger.Warn("kill-switch engaged",
			"tenant", f.Tenant, "kind", f.Kind, "severity", f.Severity)
		return nil
	}

	w.intents.Emit(audit.IntentWatchdogAlert, map[string]any{
		"tenant":      f.Tenant,
		"kind":        f.Kind,
		"severity":    f.Severity,
		"explanation": f.Explanation,
		"alert_id":    alertID,
	})
	w.logger.Info("watchdog alert", "tenant", f.Tenant, "kind", f.Kind, "severity", f.Severity)
	return nil
}

func alertPriority(severity string) string {
	if severity == SeverityCritical || severity == SeverityHigh {
		return "high"
	}
	return "normal"
}

// detectLosingStreak fires when the window ends with LosingStreakMin or
// more consecutive losses. Any non-loss, including a trade with no PnL
// yet, breaks the streak.
func detectLosingStreak(tenant string, trades []trade) *Finding {
	streak := 0
	for _, t := range trades {
		if t.pnlPercent != nil && t.pnlPercent.LessThan(lossThresholdPct) {
			streak++
		} else {
			streak = 0
		}
	}
	if streak < LosingStreakMin {
		return nil
	}
	return &Finding{
		Tenant:      tenant,
		Kind:        KindLosingStreak,
		Severity:    SeverityCritical,
		Halt:        true,
		Explanation: fmt.Sprintf("%d consecutive losing shadow trades in the last %s", streak, WindowDuration),
		Evidence:    map[string]any{"streak": streak, "window_trades": len(trades)},
	}
}

// detectRapidDrawdown fires when aggregate |pnl| / cost basis over the
// window reaches the drawdown ratio. Trades missing either figure do not
// contribute.
func detectRapidDrawdown(tenant string, trades []trade) *Finding {
	totalPnL := decimal.Zero
	totalCost := decimal.Zero
	for _, t := range trades {
		if t.pnl == nil || t.costBasis == nil {
			continue
		}
		totalPnL = totalPnL.Add(*t.pnl)
		totalCost = totalCost.Add(*t.costBasis)
	}
	if totalCost.IsZero() || totalPnL.GreaterThanOrEqual(decimal.Zero) {
		return nil
	}
	ratio := totalPnL.Abs().Div(totalCost)
	if ratio.LessThan(drawdownRatio) {
		return nil
	}
	return &Finding{
		Tenant:      tenant,
		Kind:        KindRapidDrawdown,
		Severity:    SeverityHigh,
		Halt:        true,
		Explanation: fmt.Sprintf("drawdown %s of cost basis over the last %s", ratio.StringFixed(4), WindowDuration),
		Evidence: map[string]any{
			"total_pnl":        totalPnL.String(),
			"total_cost_basis": totalCost.String(),
			"ratio":            ratio.String(),
		},
	}
}

// detectRegimeMismatch is observational: repeated buying into a reported
// negative-gamma regime is flagged but never halts.
func (w *Watchdog) detectRegimeMismatch(ctx context.Context, tenant string, trades []trade) (*Finding, error) {
	buys := 0
	for _, t := range trades {
		if strings.EqualFold(t.action, "BUY") {
			buys++
		}
	}
	if buys < BuyStreakMin {
		return nil, nil
	}

	regime, ok, err := w.store.Get(ctx, CollectionRegime, regimeDocID)
	if err != nil {
		return nil, fmt.Errorf("read regime doc: %w", err)
	}
	if !ok || !negativeGamma(regime) {
		return nil, nil
	}
	return &Finding{
		Tenant:      tenant,
		Kind:        KindRegimeMismatch,
		Severity:    SeverityMedium,
		Halt:        false,
		Explanation: fmt.Sprintf("%d BUY shadow trades while market regime reports negative gamma exposure", buys),
		Evidence:    map[string]any{"buy_count": buys},
	}, nil
}

func negativeGamma(regime docstore.Doc) bool {
	for _, key := range []string{"gamma_exposure", "gammaExposure"} {
		if d, ok := toDecimal(regime[key]); ok {
			return d.IsNegative()
		}
	}
	if b, ok := regime["negative_gamma"].(bool); ok {
		return b
	}
	return false
}
