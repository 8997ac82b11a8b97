package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/audit"
)

// ---------------------------------------------------------------------------
// Trading-Wide Circuit Breaker
// Armed <-> Triggered(cooldown). Four trigger types evaluated on each
// admission attempt; first match halts trading for the user until the
// cooldown expires or an admin resets.
// ---------------------------------------------------------------------------

// TriggerType identifies what tripped the breaker.
type TriggerType string

const (
	TriggerDrawdown    TriggerType = "drawdown"
	TriggerRugStreak   TriggerType = "rug_streak"
	TriggerHiddenTax   TriggerType = "hidden_tax"
	TriggerFrozenToken TriggerType = "frozen_token"
	TriggerManual      TriggerType = "manual"
)

// Counter names for the dedicated increment path.
const (
	CounterRug    = "rug"
	CounterTax    = "tax"
	CounterFreeze = "freeze"
)

// ErrNotFound is returned by stores when no state exists for a user.
var ErrNotFound = errors.New("breaker: state not found")

// Counters are advisory safety counters, not ledgers: increments tolerate
// last-write-wins races, resets happen only through explicit reset paths.
type Counters struct {
	Rug    int `json:"rug"`
	Tax    int `json:"tax"`
	Freeze int `json:"freeze"`
}

// State is the persisted breaker state for one user.
type State struct {
	UserID                string      `json:"user_id"`
	Triggered             bool        `json:"triggered"`
	TriggeredAt           time.Time   `json:"triggered_at,omitempty"`
	TriggerType           TriggerType `json:"trigger_type,omitempty"`
	Reason                string      `json:"reason,omitempty"`
	CooldownExpiresAt     time.Time   `json:"cooldown_expires_at,omitempty"`
	RequiresAdminOverride bool        `json:"requires_admin_override"`
	Counters              Counters    `json:"counters"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Store persists breaker state.
type Store interface {
	Load(ctx context.Context, userID string) (*State, error)
	Save(ctx context.Context, state *State) error
	// IncrementCounter atomically bumps one counter and returns the new
	// value. A single-statement server-side increment, not read-modify-write.
	IncrementCounter(ctx context.Context, userID, counter string) (int, error)
}

// ClosedTrade summarizes one closed trade for trigger evaluation.
type ClosedTrade struct {
	EntryValueUSD float64   `json:"entry_value_usd"`
	PnLUSD        float64   `json:"pnl_usd"`
	RugFlagged    bool      `json:"rug_flagged"`
	ClosedAt      time.Time `json:"closed_at"`
}

// Config configures the breaker.
type Config struct {
	DrawdownPct       float64       `yaml:"drawdown_pct"`       // realized loss % of entry value
	DrawdownWindow    time.Duration `yaml:"drawdown_window"`    // rolling window for drawdown
	RugStreakCount    int           `yaml:"rug_streak_count"`   // rug-flagged exits to trip
	RugStreakWindow   int           `yaml:"rug_streak_window"`  // among the last N closed trades
	HiddenTaxCount    int           `yaml:"hidden_tax_count"`
	FrozenTokenCount  int           `yaml:"frozen_token_count"`
	CooldownMinutes   int           `yaml:"cooldown_minutes"`
	RequireAdminReset bool          `yaml:"require_admin_reset"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DrawdownPct:      30,
		DrawdownWindow:   24 * time.Hour,
		RugStreakCount:   3,
		RugStreakWindow:  10,
		HiddenTaxCount:   2,
		FrozenTokenCount: 2,
		CooldownMinutes:  60,
	}
}

// Authorizer validates an admin's authority to reset a user's breaker,
// backed by persisted admin-role records.
type Authorizer interface {
	Authorize(ctx context.Context, adminID, userID string) error
}

// closedTradeWindowCap bounds the in-memory trade history kept per user.
const closedTradeWindowCap = 50

// Breaker is the trading-wide halt controller.
type Breaker struct {
	config Config
	store  Store
	trail  *audit.Trail
	auth   Authorizer

	// Rolling closed-trade history per user. Counters persist in the
	// store; the trade window is advisory and rebuilt after restart.
	mu     sync.Mutex
	closed map[string][]ClosedTrade

	now func() time.Time

	// Stats.
	checks   atomic.Int64
	blocks   atomic.Int64
	triggers atomic.Int64
	resets   atomic.Int64
}

// New creates a circuit breaker. trail may be nil.
func New(config Config, store Store, trail *audit.Trail) *Breaker {
	if config.CooldownMinutes == 0 {
		config.CooldownMinutes = 60
	}
	if config.DrawdownWindow == 0 {
		config.DrawdownWindow = 24 * time.Hour
	}
	if config.RugStreakWindow == 0 {
		config.RugStreakWindow = 10
	}
	return &Breaker{
		config: config,
		store:  store,
		trail:  trail,
		closed: make(map[string][]ClosedTrade),
		now:    time.Now,
	}
}

// SetAuthorizer installs the admin-role collaborator consulted by
// AdminReset. Without one, any adminID may reset.
func (b *Breaker) SetAuthorizer(auth Authorizer) {
	b.auth = auth
}

// loadOrDefault reads the user's state, starting Armed when none exists.
func (b *Breaker) loadOrDefault(ctx context.Context, userID string) *State {
	state, err := b.store.Load(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("user", userID).Msg("breaker: state load failed, defaulting to armed")
		}
		return &State{UserID: userID}
	}
	return state
}

// CheckAdmission reports whether trading is currently allowed for a user.
// A triggered breaker inside its cooldown blocks immediately with the
// stored reason. When armed, the counter triggers are evaluated against
// the already-loaded state, so a counter reaching its threshold halts the
// very next admission attempt. Natural expiry re-arms unless admin
// override is required; counters survive a natural re-arm.
func (b *Breaker) CheckAdmission(ctx context.Context, userID string) (bool, string) {
	b.checks.Add(1)
	state := b.loadOrDefault(ctx, userID)

	if !state.Triggered {
		return b.admitArmed(ctx, state)
	}

	if b.now().Before(state.CooldownExpiresAt) {
		b.blocks.Add(1)
		return false, fmt.Sprintf("circuit breaker triggered (%s): %s, cooldown until %s",
			state.TriggerType, state.Reason, state.CooldownExpiresAt.Format(time.RFC3339))
	}

	if state.RequiresAdminOverride {
		b.blocks.Add(1)
		return false, fmt.Sprintf("circuit breaker triggered (%s): %s, admin reset required",
			state.TriggerType, state.Reason)
	}

	// Cooldown expired: re-arm. Trigger bookkeeping clears, counters do not.
	state.Triggered = false
	state.TriggerType = ""
	state.Reason = ""
	state.TriggeredAt = time.Time{}
	state.CooldownExpiresAt = time.Time{}
	state.UpdatedAt = b.now()
	if err := b.store.Save(ctx, state); err != nil {
		log.Error().Err(err).Str("user", userID).Msg("breaker: re-arm save failed")
	}
	log.Info().Str("user", userID).Msg("breaker: cooldown expired, re-armed")
	return b.admitArmed(ctx, state)
}

// admitArmed runs the counter triggers over an armed state, tripping the
// breaker and blocking when one is at threshold.
func (b *Breaker) admitArmed(ctx context.Context, state *State) (bool, string) {
	triggerType, reason := b.counterBreached(state)
	if triggerType == "" {
		return true, ""
	}
	b.trigger(ctx, state, triggerType, reason)
	b.blocks.Add(1)
	return false, fmt.Sprintf("circuit breaker triggered (%s): %s, cooldown until %s",
		triggerType, reason, state.CooldownExpiresAt.Format(time.RFC3339))
}

// counterBreached checks the hidden-tax and frozen-token counters against
// their thresholds.
func (b *Breaker) counterBreached(state *State) (TriggerType, string) {
	if b.config.HiddenTaxCount > 0 && state.Counters.Tax >= b.config.HiddenTaxCount {
		return TriggerHiddenTax,
			fmt.Sprintf("%d hidden-tax tokens detected (threshold %d)", state.Counters.Tax, b.config.HiddenTaxCount)
	}
	if b.config.FrozenTokenCount > 0 && state.Counters.Freeze >= b.config.FrozenTokenCount {
		return TriggerFrozenToken,
			fmt.Sprintf("%d frozen tokens hit (threshold %d)", state.Counters.Freeze, b.config.FrozenTokenCount)
	}
	return "", ""
}

// Evaluate runs the four triggers against the current state and recent
// closed trades, tripping the breaker on the first match. Returns whether
// the breaker tripped and the trigger type.
func (b *Breaker) Evaluate(ctx context.Context, userID string, trades []ClosedTrade) (bool, TriggerType) {
	state := b.loadOrDefault(ctx, userID)
	if state.Triggered {
		return false, ""
	}

	if tripped, reason := b.drawdownBreached(trades); tripped {
		b.trigger(ctx, state, TriggerDrawdown, reason)
		return true, TriggerDrawdown
	}

	if tripped, reason := b.rugStreakBreached(trades); tripped {
		b.trigger(ctx, state, TriggerRugStreak, reason)
		return true, TriggerRugStreak
	}

	if triggerType, reason := b.counterBreached(state); triggerType != "" {
		b.trigger(ctx, state, triggerType, reason)
		return true, triggerType
	}

	return false, ""
}

// RecordClose appends a closed trade to the user's rolling history and
// evaluates the drawdown and rug-streak triggers over it. This is the
// feedback edge from settled positions back into the halt controller.
func (b *Breaker) RecordClose(ctx context.Context, userID string, trade ClosedTrade) (bool, TriggerType) {
	if trade.ClosedAt.IsZero() {
		trade.ClosedAt = b.now()
	}

	b.mu.Lock()
	window := append(b.closed[userID], trade)
	if len(window) > closedTradeWindowCap {
		window = window[len(window)-closedTradeWindowCap:]
	}
	b.closed[userID] = window
	trades := make([]ClosedTrade, len(window))
	copy(trades, window)
	b.mu.Unlock()

	return b.Evaluate(ctx, userID, trades)
}

func (b *Breaker) drawdownBreached(trades []ClosedTrade) (bool, string) {
	if b.config.DrawdownPct <= 0 {
		return false, ""
	}
	cutoff := b.now().Add(-b.config.DrawdownWindow)
	var loss, entry float64
	for _, t := range trades {
		if t.ClosedAt.Before(cutoff) {
			continue
		}
		entry += t.EntryValueUSD
		if t.PnLUSD < 0 {
			loss += -t.PnLUSD
		}
	}
	if entry == 0 {
		return false, ""
	}
	pct := loss / entry * 100
	if pct >= b.config.DrawdownPct {
		return true, fmt.Sprintf("realized loss %.1f%% of entry value within window (threshold %.1f%%)",
			pct, b.config.DrawdownPct)
	}
	return false, ""
}

func (b *Breaker) rugStreakBreached(trades []ClosedTrade) (bool, string) {
	if b.config.RugStreakCount <= 0 {
		return false, ""
	}
	window := trades
	if len(window) > b.config.RugStreakWindow {
		window = window[len(window)-b.config.RugStreakWindow:]
	}
	rugs := 0
	for _, t := range window {
		if t.RugFlagged {
			rugs++
		}
	}
	if rugs >= b.config.RugStreakCount {
		return true, fmt.Sprintf("%d rug-flagged exits among last %d closed trades (threshold %d)",
			rugs, len(window), b.config.RugStreakCount)
	}
	return false, ""
}

// TriggerManual trips the breaker by operator action.
func (b *Breaker) TriggerManual(ctx context.Context, userID, reason string) {
	state := b.loadOrDefault(ctx, userID)
	b.trigger(ctx, state, TriggerManual, reason)
}

// trigger transitions to Triggered and persists. The cooldown expiry is a
// deterministic function of triggeredAt + cooldownMinutes. The trigger
// event is logged at-least-once: process log, audit trail, then store.
func (b *Breaker) trigger(ctx context.Context, state *State, triggerType TriggerType, reason string) {
	now := b.now()
	state.Triggered = true
	state.TriggeredAt = now
	state.TriggerType = triggerType
	state.Reason = reason
	state.CooldownExpiresAt = now.Add(time.Duration(b.config.CooldownMinutes) * time.Minute)
	state.RequiresAdminOverride = b.config.RequireAdminReset
	state.UpdatedAt = now

	b.triggers.Add(1)
	log.Error().
		Str("user", state.UserID).
		Str("trigger", string(triggerType)).
		Str("reason", reason).
		Time("cooldown_until", state.CooldownExpiresAt).
		Msg("breaker: TRIGGERED - trading halted")

	if b.trail != nil {
		b.trail.RecordTrigger(state.UserID, string(triggerType), reason, state)
	}

	if err := b.store.Save(ctx, state); err != nil {
		log.Error().Err(err).Str("user", state.UserID).Msg("breaker: trigger save failed")
	}
}

// RecordRug bumps the rug counter through the atomic increment path.
func (b *Breaker) RecordRug(ctx context.Context, userID string) {
	b.bump(ctx, userID, CounterRug)
}

// RecordHiddenTax bumps the hidden-tax counter.
func (b *Breaker) RecordHiddenTax(ctx context.Context, userID string) {
	b.bump(ctx, userID, CounterTax)
}

// RecordFrozenToken bumps the frozen-token counter.
func (b *Breaker) RecordFrozenToken(ctx context.Context, userID string) {
	b.bump(ctx, userID, CounterFreeze)
}

func (b *Breaker) bump(ctx context.Context, userID, counter string) {
	value, err := b.store.IncrementCounter(ctx, userID, counter)
	if err != nil {
		// Counter writes are bookkeeping: log and continue, never block
		// the surrounding flow.
		log.Error().Err(err).Str("user", userID).Str("counter", counter).
			Msg("breaker: counter increment failed")
		return
	}
	log.Debug().Str("user", userID).Str("counter", counter).Int("value", value).
		Msg("breaker: counter incremented")
}

// AdminReset re-arms the breaker and clears counters, reason and the
// override flag. The only path that zeroes counters. An installed
// Authorizer is consulted before any state is touched.
func (b *Breaker) AdminReset(ctx context.Context, userID, adminID string) error {
	if b.auth != nil {
		if err := b.auth.Authorize(ctx, adminID, userID); err != nil {
			log.Warn().Err(err).Str("user", userID).Str("admin", adminID).
				Msg("breaker: reset refused")
			return fmt.Errorf("breaker: reset by %s refused: %w", adminID, err)
		}
	}

	state := b.loadOrDefault(ctx, userID)
	state.Triggered = false
	state.TriggerType = ""
	state.Reason = ""
	state.TriggeredAt = time.Time{}
	state.CooldownExpiresAt = time.Time{}
	state.RequiresAdminOverride = false
	state.Counters = Counters{}
	state.UpdatedAt = b.now()

	if err := b.store.Save(ctx, state); err != nil {
		return fmt.Errorf("breaker: reset save: %w", err)
	}

	b.mu.Lock()
	delete(b.closed, userID)
	b.mu.Unlock()

	b.resets.Add(1)
	if b.trail != nil {
		b.trail.RecordReset(userID, adminID)
	}
	log.Info().Str("user", userID).Str("admin", adminID).Msg("breaker: admin reset")
	return nil
}

// StateFor returns a copy of the user's current state.
func (b *Breaker) StateFor(ctx context.Context, userID string) State {
	return *b.loadOrDefault(ctx, userID)
}

// Stats returns breaker statistics.
type Stats struct {
	Checks   int64 `json:"checks"`
	Blocks   int64 `json:"blocks"`
	Triggers int64 `json:"triggers"`
	Resets   int64 `json:"resets"`
}

func (b *Breaker) Stats() Stats {
	return Stats{
		Checks:   b.checks.Load(),
		Blocks:   b.blocks.Load(),
		Triggers: b.triggers.Load(),
		Resets:   b.resets.Load(),
	}
}
