package rbac

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore queries role assignments from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore backed by the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// AssignedPermissionCodes returns deduplicated permission codes granted to
// the user through role assignments.
func (s *PGStore) AssignedPermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	const query = `
		SELECT DISTINCT p.code
		FROM rbac_user_roles ur
		JOIN rbac_role_permissions rp ON rp.role_id = ur.role_id
		JOIN rbac_permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.code`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
