package members

import (
	"context"
	"sync"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"
)

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]User
	matches map[string]Match
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: map[string]User{}, matches: map[string]Match{}}
}

func (d *MemoryDirectory) PutUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) PutMatch(m Match) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches[m.ID] = m
}

func (d *MemoryDirectory) GetUser(ctx context.Context, userID string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return User{}, apperr.NotFound("user not found")
	}
	return u, nil
}

func (d *MemoryDirectory) GetMatch(ctx context.Context, matchID string) (Match, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.matches[matchID]
	if !ok {
		return Match{}, apperr.NotFound("match not found")
	}
	return m, nil
}

func (d *MemoryDirectory) TierOf(ctx context.Context, userID string) (membership.Tier, error) {
	return tierOf(ctx, d, userID)
}
