package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/audit"
)

func testBreaker(t *testing.T, cfg Config) (*Breaker, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	b := New(cfg, store, audit.NewTrail(nil, 100))
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b, store
}

func closedTrades(b *Breaker, rugFlags ...bool) []ClosedTrade {
	trades := make([]ClosedTrade, 0, len(rugFlags))
	for _, rug := range rugFlags {
		trades = append(trades, ClosedTrade{
			EntryValueUSD: 100,
			PnLUSD:        5,
			RugFlagged:    rug,
			ClosedAt:      b.now().Add(-time.Hour),
		})
	}
	return trades
}

func TestCheckAdmission_ArmedAllows(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	ok, reason := b.CheckAdmission(context.Background(), "user-1")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestRugStreak_ThreeOfLastTenTriggers(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	// 10 closed trades, 3 rug-flagged.
	trades := closedTrades(b, true, false, false, true, false, false, false, true, false, false)
	tripped, triggerType := b.Evaluate(context.Background(), "user-1", trades)

	require.True(t, tripped)
	assert.Equal(t, TriggerRugStreak, triggerType)

	ok, reason := b.CheckAdmission(context.Background(), "user-1")
	assert.False(t, ok)
	assert.Contains(t, reason, "rug_streak")
}

func TestRugStreak_OnlyLastWindowCounts(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	// 3 rugs total, but only 2 inside the last-10 window.
	flags := []bool{true, true}
	for i := 0; i < 9; i++ {
		flags = append(flags, false)
	}
	flags = append(flags, true)
	trades := closedTrades(b, flags...)

	tripped, _ := b.Evaluate(context.Background(), "user-1", trades)
	assert.False(t, tripped)
}

func TestDrawdown_TriggersOnLossShare(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	trades := []ClosedTrade{
		{EntryValueUSD: 500, PnLUSD: -200, ClosedAt: b.now().Add(-time.Hour)},
		{EntryValueUSD: 500, PnLUSD: 20, ClosedAt: b.now().Add(-2 * time.Hour)},
	}
	// loss 200 of entry 1000 = 20%, under the 30% threshold
	tripped, _ := b.Evaluate(context.Background(), "user-1", trades)
	assert.False(t, tripped)

	trades[0].PnLUSD = -350 // 35%
	tripped, triggerType := b.Evaluate(context.Background(), "user-1", trades)
	require.True(t, tripped)
	assert.Equal(t, TriggerDrawdown, triggerType)
}

func TestDrawdown_OldLossesOutsideWindowIgnored(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	trades := []ClosedTrade{
		{EntryValueUSD: 500, PnLUSD: -400, ClosedAt: b.now().Add(-48 * time.Hour)},
		{EntryValueUSD: 500, PnLUSD: 10, ClosedAt: b.now().Add(-time.Hour)},
	}
	tripped, _ := b.Evaluate(context.Background(), "user-1", trades)
	assert.False(t, tripped)
}

func TestHiddenTaxCounter_TriggersAtThreshold(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.RecordHiddenTax(context.Background(), "user-1")
	tripped, _ := b.Evaluate(context.Background(), "user-1", nil)
	assert.False(t, tripped)

	b.RecordHiddenTax(context.Background(), "user-1")
	tripped, triggerType := b.Evaluate(context.Background(), "user-1", nil)
	require.True(t, tripped)
	assert.Equal(t, TriggerHiddenTax, triggerType)
}

func TestFrozenTokenCounter_TriggersAtThreshold(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.RecordFrozenToken(context.Background(), "user-1")
	b.RecordFrozenToken(context.Background(), "user-1")

	tripped, triggerType := b.Evaluate(context.Background(), "user-1", nil)
	require.True(t, tripped)
	assert.Equal(t, TriggerFrozenToken, triggerType)
}

func TestCooldownExpiry_IsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownMinutes = 90
	b, _ := testBreaker(t, cfg)

	b.TriggerManual(context.Background(), "user-1", "halt")
	state := b.StateFor(context.Background(), "user-1")

	assert.Equal(t, state.TriggeredAt.Add(90*time.Minute), state.CooldownExpiresAt)
}

func TestCooldownExpiry_ReArmsAndKeepsCounters(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.RecordRug(context.Background(), "user-1")
	b.TriggerManual(context.Background(), "user-1", "halt")

	ok, _ := b.CheckAdmission(context.Background(), "user-1")
	require.False(t, ok)

	// Move past the cooldown.
	b.now = func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }
	ok, _ = b.CheckAdmission(context.Background(), "user-1")
	assert.True(t, ok)

	state := b.StateFor(context.Background(), "user-1")
	assert.False(t, state.Triggered)
	assert.Equal(t, 1, state.Counters.Rug, "natural re-arm must not clear counters")
}

func TestAdminOverride_BlocksPastCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireAdminReset = true
	b, _ := testBreaker(t, cfg)

	b.TriggerManual(context.Background(), "user-1", "halt")
	b.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	ok, reason := b.CheckAdmission(context.Background(), "user-1")
	assert.False(t, ok)
	assert.Contains(t, reason, "admin reset required")
}

func TestAdminReset_ClearsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireAdminReset = true
	b, _ := testBreaker(t, cfg)

	b.RecordRug(context.Background(), "user-1")
	b.RecordHiddenTax(context.Background(), "user-1")
	b.TriggerManual(context.Background(), "user-1", "halt")

	require.NoError(t, b.AdminReset(context.Background(), "user-1", "admin-9"))

	state := b.StateFor(context.Background(), "user-1")
	assert.False(t, state.Triggered)
	assert.False(t, state.RequiresAdminOverride)
	assert.Equal(t, Counters{}, state.Counters)

	ok, _ := b.CheckAdmission(context.Background(), "user-1")
	assert.True(t, ok)
}

func TestCheckAdmission_CounterAtThresholdBlocks(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.RecordHiddenTax(context.Background(), "user-1")
	b.RecordHiddenTax(context.Background(), "user-1")

	ok, reason := b.CheckAdmission(context.Background(), "user-1")
	require.False(t, ok, "two hidden-tax hits must halt the next admission")
	assert.Contains(t, reason, "hidden_tax")

	state := b.StateFor(context.Background(), "user-1")
	assert.True(t, state.Triggered)
	assert.Equal(t, TriggerHiddenTax, state.TriggerType)
}

func TestCheckAdmission_FrozenCounterBlocksAfterReArm(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.RecordFrozenToken(context.Background(), "user-1")
	b.RecordFrozenToken(context.Background(), "user-1")
	b.TriggerManual(context.Background(), "user-1", "halt")

	// Past the cooldown the re-armed state still carries the counters,
	// so the breaker trips again immediately.
	b.now = func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }
	ok, reason := b.CheckAdmission(context.Background(), "user-1")
	assert.False(t, ok)
	assert.Contains(t, reason, "frozen_token")
}

func TestRecordClose_RugStreakTrips(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	for i := 0; i < 2; i++ {
		tripped, _ := b.RecordClose(context.Background(), "user-1", ClosedTrade{
			EntryValueUSD: 100, PnLUSD: 5, RugFlagged: true,
		})
		assert.False(t, tripped)
	}

	tripped, triggerType := b.RecordClose(context.Background(), "user-1", ClosedTrade{
		EntryValueUSD: 100, PnLUSD: 5, RugFlagged: true,
	})
	require.True(t, tripped)
	assert.Equal(t, TriggerRugStreak, triggerType)

	ok, _ := b.CheckAdmission(context.Background(), "user-1")
	assert.False(t, ok)
}

func TestRecordClose_DrawdownTrips(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	tripped, _ := b.RecordClose(context.Background(), "user-1", ClosedTrade{
		EntryValueUSD: 500, PnLUSD: 20,
	})
	assert.False(t, tripped)

	// 350 lost of 1000 entered = 35%, over the 30% threshold.
	tripped, triggerType := b.RecordClose(context.Background(), "user-1", ClosedTrade{
		EntryValueUSD: 500, PnLUSD: -350,
	})
	require.True(t, tripped)
	assert.Equal(t, TriggerDrawdown, triggerType)
}

func TestAdminReset_UnauthorizedAdminRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireAdminReset = true
	b, _ := testBreaker(t, cfg)

	auth := &StubAuthorizer{Denied: map[string]bool{"intern-3": true}}
	b.SetAuthorizer(auth)

	b.TriggerManual(context.Background(), "user-1", "halt")

	err := b.AdminReset(context.Background(), "user-1", "intern-3")
	require.Error(t, err)
	assert.Equal(t, 1, auth.Calls)

	state := b.StateFor(context.Background(), "user-1")
	assert.True(t, state.Triggered, "refused reset must leave the breaker triggered")

	require.NoError(t, b.AdminReset(context.Background(), "user-1", "admin-9"))
	state = b.StateFor(context.Background(), "user-1")
	assert.False(t, state.Triggered)
}

func TestEvaluate_AlreadyTriggeredDoesNotRetrigger(t *testing.T) {
	b, _ := testBreaker(t, DefaultConfig())

	b.TriggerManual(context.Background(), "user-1", "halt")
	trades := closedTrades(b, true, true, true)

	tripped, _ := b.Evaluate(context.Background(), "user-1", trades)
	assert.False(t, tripped)
}

func TestTrigger_WritesAuditEvent(t *testing.T) {
	store := NewMemoryStore()
	trail := audit.NewTrail(nil, 100)
	b := New(DefaultConfig(), store, trail)

	b.TriggerManual(context.Background(), "user-1", "halt")

	entries := trail.QueryByUser("user-1")
	require.NotEmpty(t, entries)
	assert.Equal(t, audit.EventBreakerTrigger, entries[0].EventType)
}
