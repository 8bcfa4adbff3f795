package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workstream-hq/workstream/internal/platform/db"
	"github.com/workstream-hq/workstream/internal/shared"
)

// Repository abstracts lead persistence.
type Repository interface {
	Create(ctx context.Context, lead *Lead) error
	Update(ctx context.Context, lead *Lead) error
	FindByID(ctx context.Context, orgID, id int64) (*Lead, error)
	List(ctx context.Context, orgID int64, filter ListFilter) ([]Lead, error)
	BulkInsert(ctx context.Context, leadsBatch []Lead) (int64, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const leadColumns = `id, org_id, name, email, phone, source, status, score, notes, created_at, updated_at`

func (r *pgRepository) Create(ctx context.Context, lead *Lead) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (org_id, name, email, phone, source, status, score, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		lead.OrgID, lead.Name, lead.Email, lead.Phone, lead.Source, lead.Status, lead.Score, lead.Notes)
	if err := row.Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
		// The partial unique index on (org_id, email) rejects duplicate
		// contactable leads.
		if db.IsUniqueViolation(err) {
			return shared.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *pgRepository) Update(ctx context.Context, lead *Lead) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET name = $3, email = $4, phone = $5, status = $6, score = $7, notes = $8, updated_at = NOW()
		WHERE org_id = $1 AND id = $2`,
		lead.OrgID, lead.ID, lead.Name, lead.Email, lead.Phone, lead.Status, lead.Score, lead.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *pgRepository) FindByID(ctx context.Context, orgID, id int64) (*Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE org_id = $1 AND id = $2`, orgID, id)
	var l Lead
	err := row.Scan(&l.ID, &l.OrgID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Status, &l.Score, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *pgRepository) List(ctx context.Context, orgID int64, filter ListFilter) ([]Lead, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE org_id = $1`
	args := []any{orgID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.OrgID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Status, &l.Score, &l.Notes, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *pgRepository) BulkInsert(ctx context.Context, leadsBatch []Lead) (int64, error) {
	if len(leadsBatch) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(leadsBatch))
	for _, l := range leadsBatch {
		rows = append(rows, []any{l.OrgID, l.Name, l.Email, l.Phone, l.Source, l.Status, l.Score, l.Notes})
	}
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"leads"},
		[]string{"org_id", "name", "email", "phone", "source", "status", "score", "notes"},
		pgx.CopyFromRows(rows),
	)
}
