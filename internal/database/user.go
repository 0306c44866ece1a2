package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrUserNotFound is returned when no row matches the user id.
var ErrUserNotFound = errors.New("user not found")

// Querier is the slice of pgxpool.Pool the directory needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserDirectory looks up display names in the users table.
type UserDirectory struct {
	db Querier
}

// NewUserDirectory wraps a pool (or any Querier).
func NewUserDirectory(db Querier) *UserDirectory {
	return &UserDirectory{db: db}
}

// DisplayName returns the username stored for id.
func (d *UserDirectory) DisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	var username string
	q := `SELECT username FROM users WHERE id=$1`
	err := d.db.QueryRow(ctx, q, id).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return username, nil
}
