package members

import (
	"context"

	"videodate-platform/internal/membership"
)

// Directory resolves users and matches.
// Implementations return apperr.ErrNotFound for unknown ids.
type Directory interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetMatch(ctx context.Context, matchID string) (Match, error)
	TierOf(ctx context.Context, userID string) (membership.Tier, error)
}

// tierOf is shared by both implementations.
func tierOf(ctx context.Context, d Directory, userID string) (membership.Tier, error) {
	u, err := d.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Tier, nil
}
