package postgres

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/audit"
)

// AuditStore implements audit.Sink using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ audit.Sink = (*AuditStore)(nil)

// WriteAuditEntry appends one audit event. Append-only, no updates.
func (s *AuditStore) WriteAuditEntry(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_events (
			id, event_type, ts, user_id, token_mint, decision, reason, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.EventType, entry.Timestamp,
		entry.UserID, entry.TokenMint, entry.Decision, entry.Reason, entry.Payload,
	)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}
