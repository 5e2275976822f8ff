// Package observer reconstructs, read-only, why an option plan existed
// and whether it was decided. It opens audit NDJSON files and stdout
// captures; it never writes anything anywhere.
package observer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxKeyFactors bounds the rationale factor list.
const MaxKeyFactors = 10

// Contract is the permissively extracted option contract of a plan.
// Every field is best-effort; absent inputs leave zero values.
type Contract struct {
	Symbol     string `json:"symbol,omitempty"`
	Underlying string `json:"underlying,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	Strike     string `json:"strike,omitempty"`
	Right      string `json:"right,omitempty"`
}

// Order is the plan's order intent summary.
type Order struct {
	Side        string `json:"side,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	LimitPrice  string `json:"limit_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

// Rationale is why the plan existed.
type Rationale struct {
	Why        string   `json:"why,omitempty"`
	KeyFactors []string `json:"key_factors,omitempty"`
}

// Evidence is what happened to the plan, if anything did.
type Evidence struct {
	Decision   string   `json:"decision"`
	Reasons    []string `json:"reasons,omitempty"`
	DecisionID string   `json:"decision_id,omitempty"`
	// Source is the path the evidence came from, or "stdout".
	Source string `json:"source"`
}

// Explanation is the full reconstruction for one plan.
type Explanation struct {
	PlanID        string    `json:"plan_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAtUTC  string    `json:"created_at_utc,omitempty"`
	AgentName     string    `json:"agent_name,omitempty"`
	StrategyName  string    `json:"strategy_name,omitempty"`
	Contract      Contract  `json:"contract"`
	Order         Order     `json:"order"`
	Rationale     Rationale `json:"rationale"`
	Evidence      *Evidence `json:"evidence,omitempty"`
}

// Observer reads the audit trail. All paths are bases; day partitions are
// resolved from the injected clock.
type Observer struct {
	ProposalsBaseDir string
	DecisionsBaseDir string
	// StdoutLogPath is the optional captured-stdout fallback for evidence.
	StdoutLogPath string

	clock func() time.Time
}

// New builds an observer over the given audit bases.
func New(proposalsBase, decisionsBase string) *Observer {
	return &Observer{
		ProposalsBaseDir: proposalsBase,
		DecisionsBaseDir: decisionsBase,
		clock:            time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (o *Observer) WithClock(clock func() time.Time) *Observer {
	o.clock = clock
	return o
}

// Explain reconstructs the plan with the given id from today's audit
// files. An empty planID explains the latest proposal of the day.
func (o *Observer) Explain(planID string) (*Explanation, error) {
	day := o.clock().UTC().Format("2006-01-02")
	plan, err := o.findPlan(day, planID)
	if err != nil {
		return nil, err
	}

	ex := buildExplanation(plan)
	ex.Evidence = o.findEvidence(day, ex.PlanID)
	return ex, nil
}

// ExplainPlan reconstructs an already-loaded plan document, still
// attaching decision evidence from today's files.
func (o *Observer) ExplainPlan(plan map[string]any) *Explanation {
	ex := buildExplanation(plan)
	if ex.PlanID != "" {
		ex.Evidence = o.findEvidence(o.clock().UTC().Format("2006-01-02"), ex.PlanID)
	}
	return ex
}

// findPlan scans today's proposals file. Lines that fail to parse are
// skipped; the observer reconstructs what it can.
func (o *Observer) findPlan(day, planID string) (map[string]any, error) {
	path := filepath.Join(o.ProposalsBaseDir, day, "proposals.ndjson")
	var match map[string]any
	err := scanNDJSON(path, func(obj map[string]any) bool {
		if planID == "" {
			match = obj // keep scanning; last line wins
			return true
		}
		if firstString(obj, "proposal_id", "plan_id") == planID {
			match = obj
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("observer: read proposals %s: %w", path, err)
	}
	if match == nil {
		if planID == "" {
			return nil, fmt.Errorf("observer: no proposals recorded for %s", day)
		}
		return nil, fmt.Errorf("observer: plan %s not found in %s", planID, path)
	}
	return match, nil
}

// findEvidence prefers the decisions NDJSON file; when it has nothing it
// falls back to parsing JSON lines of the captured stdout. Missing
// evidence is not an error: an undecided plan is a valid state.
func (o *Observer) findEvidence(day, planID string) *Evidence {
	path := filepath.Join(o.DecisionsBaseDir, day, "decisions.ndjson")
	var ev *Evidence
	_ = scanNDJSON(path, func(obj map[string]any) bool {
		if firstString(obj, "proposal_id") != planID {
			return true
		}
		ev = &Evidence{
			Decision:   firstString(obj, "decision"),
			Reasons:    stringSlice(obj["reject_reason_codes"]),
			DecisionID: firstString(obj, "decision_id"),
			Source:     path,
		}
		return false
	})
	if ev != nil {
		return ev
	}
	if o.StdoutLogPath == "" {
		return nil
	}
	_ = scanNDJSON(o.StdoutLogPath, func(obj map[string]any) bool {
		intentType := firstString(obj, "intent_type")
		switch intentType {
		case "execution_decision":
			if firstString(obj, "proposal_id") != planID {
				return true
			}
			ev = &Evidence{
				Decision:   firstString(obj, "decision"),
				Reasons:    stringSlice(obj["reject_reason_codes"]),
				DecisionID: firstString(obj, "decision_id"),
				Source:     "stdout",
			}
			return false
		case "decision_output_fallback_stdout":
			inner, _ := obj["decision"].(map[string]any)
			if inner == nil || firstString(inner, "proposal_id") != planID {
				return true
			}
			ev = &Evidence{
				Decision:   firstString(inner, "decision"),
				Reasons:    stringSlice(inner["reject_reason_codes"]),
				DecisionID: firstString(inner, "decision_id"),
				Source:     "stdout",
			}
			return false
		}
		return true
	})
	return ev
}

func buildExplanation(plan map[string]any) *Explanation {
	ex := &Explanation{
		PlanID:        firstString(plan, "proposal_id", "plan_id", "id"),
		CorrelationID: firstString(plan, "correlation_id", "correlationId"),
		CreatedAtUTC:  firstString(plan, "created_at_utc", "createdAt", "created_at"),
		AgentName:     firstString(plan, "agent_name"),
		StrategyName:  firstString(plan, "strategy_name", "strategy"),
		Contract:      extractContract(plan),
		Order: Order{
			Side:        firstString(plan, "side"),
			Quantity:    numberString(plan["quantity"]),
			LimitPrice:  numberString(plan["limit_price"]),
			TimeInForce: firstString(plan, "time_in_force", "tif"),
		},
		Rationale: extractRationale(plan),
	}
	return ex
}

// extractContract digs option fields out of whichever of the known plan
// shapes this line uses.
func extractContract(plan map[string]any) Contract {
	c := Contract{Underlying: firstString(plan, "symbol", "underlying")}
	sources := []map[string]any{plan}
	for _, key := range []string{"option", "contract", "selected_contract"} {
		if nested, ok := plan[key].(map[string]any); ok {
			sources = append(sources, nested)
		}
	}
	for _, src := range sources {
		if c.Symbol == "" {
			c.Symbol = firstString(src, "contract_symbol", "option_symbol", "occ_symbol")
		}
		if c.Expiration == "" {
			c.Expiration = firstString(src, "expiration", "expiration_date", "expiry")
		}
		if c.Strike == "" {
			c.Strike = numberString(src["strike"])
		}
		if c.Right == "" {
			c.Right = strings.ToUpper(firstString(src, "right", "option_type", "call_put"))
		}
	}
	return c
}

func extractRationale(plan map[string]any) Rationale {
	r := Rationale{}
	rationale, _ := plan["rationale"].(map[string]any)
	if rationale == nil {
		return r
	}
	r.Why = firstString(rationale, "short_reason", "why", "reason")

	if factors := stringSlice(rationale["key_factors"]); len(factors) > 0 {
		r.KeyFactors = factors
	} else if indicators, ok := rationale["indicators"].(map[string]any); ok {
		keys := make([]string, 0, len(indicators))
		for k := range indicators {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.KeyFactors = append(r.KeyFactors, fmt.Sprintf("%s=%s", k, scalarString(indicators[k])))
		}
	}
	if len(r.KeyFactors) > MaxKeyFactors {
		r.KeyFactors = r.KeyFactors[:MaxKeyFactors]
	}
	return r
}

// scanNDJSON calls fn for each parseable JSON object line; fn returning
// false stops the scan. A missing file is reported; unparseable lines are
// skipped.
func scanNDJSON(path string, fn func(obj map[string]any) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if !fn(obj) {
			return nil
		}
	}
	return scanner.Err()
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", t), "0"), ".")
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return numberString(v)
	}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
