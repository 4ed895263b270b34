package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"
)

// PostgresDirectory reads the users and matches tables owned by the profile service.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetUser(ctx context.Context, userID string) (User, error) {
	const q = `
SELECT id, tier, created_at
FROM users
WHERE id = $1
`
	var u User
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.Tier, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.NotFound("user not found")
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (d *PostgresDirectory) GetMatch(ctx context.Context, matchID string) (Match, error) {
	const q = `
SELECT id, user_a, user_b, created_at
FROM matches
WHERE id = $1
`
	var m Match
	if err := d.db.QueryRowContext(ctx, q, matchID).Scan(&m.ID, &m.UserA, &m.UserB, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Match{}, apperr.NotFound("match not found")
		}
		return Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func (d *PostgresDirectory) TierOf(ctx context.Context, userID string) (membership.Tier, error) {
	return tierOf(ctx, d, userID)
}
