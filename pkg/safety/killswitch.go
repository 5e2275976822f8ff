package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KillSwitchState is the per-tenant halt record. Engaged=true means the
// tenant's trading is halted; the remaining fields explain why.
type KillSwitchState struct {
	Engaged     bool      `json:"engaged"`
	Reason      string    `json:"reason,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	UpdatedAt   time.Time `json:"updated_at_utc"`
}

// KillSwitchStore is shared between the watchdog (writer) and the
// execution decider (reader).
type KillSwitchStore interface {
	State(ctx context.Context, tenant string) (KillSwitchState, error)
	Engage(ctx context.Context, tenant, reason, severity, explanation string) error
	Disengage(ctx context.Context, tenant string) error
}

// MemoryKillSwitch is the in-process store used by tests and single-binary
// deployments.
type MemoryKillSwitch struct {
	mu     sync.RWMutex
	states map[string]KillSwitchState
	clock  func() time.Time
}

// NewMemoryKillSwitch creates an empty in-memory store.
func NewMemoryKillSwitch() *MemoryKillSwitch {
	return &MemoryKillSwitch{states: map[string]KillSwitchState{}, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (m *MemoryKillSwitch) WithClock(clock func() time.Time) *MemoryKillSwitch {
	m.clock = clock
	return m
}

func (m *MemoryKillSwitch) State(_ context.Context, tenant string) (KillSwitchState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[tenant], nil
}

func (m *MemoryKillSwitch) Engage(_ context.Context, tenant, reason, severity, explanation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tenant] = KillSwitchState{
		Engaged:     true,
		Reason:      reason,
		Severity:    severity,
		Explanation: explanation,
		UpdatedAt:   m.clock().UTC(),
	}
	return nil
}

func (m *MemoryKillSwitch) Disengage(_ context.Context, tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tenant] = KillSwitchState{Engaged: false, UpdatedAt: m.clock().UTC()}
	return nil
}

// RedisKillSwitch stores kill-switch state in Redis so multiple agents and
// the watchdog share one view. One JSON value per tenant key.
type RedisKillSwitch struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisKillSwitch creates a Redis-backed store. Keys are
// "{prefix}:killswitch:{tenant}".
func NewRedisKillSwitch(client *redis.Client, prefix string) *RedisKillSwitch {
	return &RedisKillSwitch{client: client, prefix: prefix, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (r *RedisKillSwitch) WithClock(clock func() time.Time) *RedisKillSwitch {
	r.clock = clock
	return r
}

func (r *RedisKillSwitch) key(tenant string) string {
	return fmt.Sprintf("%s:killswitch:%s", r.prefix, tenant)
}

func (r *RedisKillSwitch) State(ctx context.Context, tenant string) (KillSwitchState, error) {
	raw, err := r.client.Get(ctx, r.key(tenant)).Result()
	if err == redis.Nil {
		return KillSwitchState{}, nil
	}
	if err != nil {
		return KillSwitchState{}, fmt.Errorf("killswitch state %s: %w", tenant, err)
	}
	var state KillSwitchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return KillSwitchState{}, fmt.Errorf("killswitch state %s: corrupt record: %w", tenant, err)
	}
	return state, nil
}

func (r *RedisKillSwitch) Engage(ctx context.Context, tenant, reason, severity, explanation string) error {
	state := KillSwitchState{
		Engaged:     true,
		Reason:      reason,
		Severity:    severity,
		Explanation: explanation,
		UpdatedAt:   r.clock().UTC(),
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(tenant), raw, 0).Err(); err != nil {
		return fmt.Errorf("killswitch engage %s: %w", tenant, err)
	}
	return nil
}

func (r *RedisKillSwitch) Disengage(ctx context.Context, tenant string) error {
	state := KillSwitchState{Engaged: false, UpdatedAt: r.clock().UTC()}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(tenant), raw, 0).Err(); err != nil {
		return fmt.Errorf("killswitch disengage %s: %w", tenant, err)
	}
	return nil
}
