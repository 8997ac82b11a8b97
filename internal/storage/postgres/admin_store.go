package postgres

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/breaker"
)

// Roles that may reset a user's circuit breaker.
var resetRoles = map[string]bool{
	"superadmin":    true,
	"risk_operator": true,
}

// AdminStore implements breaker.Authorizer against the admin_roles table.
type AdminStore struct {
	pool *Pool
}

// NewAdminStore creates a new AdminStore.
func NewAdminStore(pool *Pool) *AdminStore {
	return &AdminStore{pool: pool}
}

// Compile-time interface check.
var _ breaker.Authorizer = (*AdminStore)(nil)

// Authorize checks the admin's persisted role. Only roles in resetRoles
// may reset a breaker; an unknown admin or a lesser role is refused.
func (s *AdminStore) Authorize(ctx context.Context, adminID, userID string) error {
	query := `
		SELECT role
		FROM admin_roles
		WHERE admin_id = $1
	`

	var role string
	err := s.pool.QueryRow(ctx, query, adminID).Scan(&role)
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("admin %s has no role record", adminID)
		}
		return fmt.Errorf("query admin role: %w", err)
	}
	if !resetRoles[role] {
		return fmt.Errorf("admin %s role %q may not reset breakers", adminID, role)
	}
	return nil
}
