package postgres

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/breaker"
)

// BreakerStore implements breaker.Store using PostgreSQL.
type BreakerStore struct {
	pool *Pool
}

// NewBreakerStore creates a new BreakerStore.
func NewBreakerStore(pool *Pool) *BreakerStore {
	return &BreakerStore{pool: pool}
}

// Compile-time interface check.
var _ breaker.Store = (*BreakerStore)(nil)

// Load fetches breaker state for a user. Returns breaker.ErrNotFound
// when none exists.
func (s *BreakerStore) Load(ctx context.Context, userID string) (*breaker.State, error) {
	query := `
		SELECT user_id, triggered, triggered_at, trigger_type, reason,
		       cooldown_expires_at, requires_admin_override,
		       counter_rug, counter_tax, counter_freeze, updated_at
		FROM circuit_breaker_state
		WHERE user_id = $1
	`

	st := &breaker.State{}
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&st.UserID, &st.Triggered, &st.TriggeredAt, &st.TriggerType, &st.Reason,
		&st.CooldownExpiresAt, &st.RequiresAdminOverride,
		&st.Counters.Rug, &st.Counters.Tax, &st.Counters.Freeze, &st.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, breaker.ErrNotFound
		}
		return nil, fmt.Errorf("load breaker state: %w", err)
	}
	return st, nil
}

// Save writes the full breaker state, inserting or overwriting by user.
func (s *BreakerStore) Save(ctx context.Context, st *breaker.State) error {
	query := `
		INSERT INTO circuit_breaker_state (
			user_id, triggered, triggered_at, trigger_type, reason,
			cooldown_expires_at, requires_admin_override,
			counter_rug, counter_tax, counter_freeze, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			triggered = EXCLUDED.triggered,
			triggered_at = EXCLUDED.triggered_at,
			trigger_type = EXCLUDED.trigger_type,
			reason = EXCLUDED.reason,
			cooldown_expires_at = EXCLUDED.cooldown_expires_at,
			requires_admin_override = EXCLUDED.requires_admin_override,
			counter_rug = EXCLUDED.counter_rug,
			counter_tax = EXCLUDED.counter_tax,
			counter_freeze = EXCLUDED.counter_freeze,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		st.UserID, st.Triggered, st.TriggeredAt, st.TriggerType, st.Reason,
		st.CooldownExpiresAt, st.RequiresAdminOverride,
		st.Counters.Rug, st.Counters.Tax, st.Counters.Freeze, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}

// IncrementCounter bumps one safety counter in a single server-side
// statement and returns the new value. No read-modify-write window.
func (s *BreakerStore) IncrementCounter(ctx context.Context, userID, counter string) (int, error) {
	var column string
	switch counter {
	case breaker.CounterRug:
		column = "counter_rug"
	case breaker.CounterTax:
		column = "counter_tax"
	case breaker.CounterFreeze:
		column = "counter_freeze"
	default:
		return 0, fmt.Errorf("increment counter: unknown counter %q", counter)
	}

	// Column name comes from the switch above, never from input.
	query := fmt.Sprintf(`
		INSERT INTO circuit_breaker_state (user_id, %[1]s, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (user_id) DO UPDATE SET
			%[1]s = circuit_breaker_state.%[1]s + 1,
			updated_at = now()
		RETURNING %[1]s
	`, column)

	var value int
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", counter, err)
	}
	return value, nil
}
