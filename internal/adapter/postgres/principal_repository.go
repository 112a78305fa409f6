package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/medidash/internal/domain"
)

const principalColumns = `id, email, full_name, role, is_active, created_at, updated_at`

type PrincipalRepo struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepo(pool *pgxpool.Pool) *PrincipalRepo {
	return &PrincipalRepo{pool: pool}
}

func (r *PrincipalRepo) GetByID(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+principalColumns+` FROM users WHERE id = $1`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get principal by ID: %w", err)
	}
	return collectPrincipal(rows, "ID")
}

// GetByEmail matches the token subject; emails are compared case-insensitively.
func (r *PrincipalRepo) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+principalColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get principal by email: %w", err)
	}
	return collectPrincipal(rows, "email")
}

// Create inserts a principal and returns it with its generated ID and timestamps.
// Used by seed tooling and integration tests.
func (r *PrincipalRepo) Create(ctx context.Context, email, fullName string, role domain.Role) (*domain.Principal, error) {
	rows, err := r.pool.Query(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, $2, $3) RETURNING `+principalColumns,
		email, fullName, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	return collectPrincipal(rows, "insert")
}

// SetActive toggles the is_active flag.
func (r *PrincipalRepo) SetActive(ctx context.Context, id domain.PrincipalID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, int64(id), active)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

type principalRow struct {
	ID        int64
	Email     string
	FullName  string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func collectPrincipal(rows pgx.Rows, by string) (*domain.Principal, error) {
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[principalRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan principal by %s: %w", by, err)
	}

	return &domain.Principal{
		ID:        domain.PrincipalID(row.ID),
		Email:     row.Email,
		FullName:  row.FullName,
		Role:      domain.Role(row.Role),
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
