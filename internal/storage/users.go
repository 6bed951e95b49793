package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finovahq/javob/internal/model"
)

// UpsertUser inserts a user or updates the mutable fields of an existing one,
// keyed by external_id.
func (db *DB) UpsertUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (id, external_id, display_name, role, base_salary, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (external_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     role = EXCLUDED.role,
		     base_salary = EXCLUDED.base_salary,
		     active = EXCLUDED.active
		 RETURNING id, created_at`,
		u.ID, u.ExternalID, u.DisplayName, string(u.Role), u.BaseSalary, u.Active, u.CreatedAt,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: upsert user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by primary key.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var (
		u    model.User
		role string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, display_name, role, base_salary, active, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ExternalID, &u.DisplayName, &role, &u.BaseSalary, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	u.Role = model.Role(role)
	return u, nil
}

// ListActiveUsers returns all active staff users, ordered by display name.
// The KPI aggregator iterates this set when recomputing a period.
func (db *DB) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, external_id, display_name, role, base_salary, active, created_at
		 FROM users WHERE active ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var (
			u    model.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &role, &u.BaseSalary, &u.Active, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		u.Role = model.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}
