package payments

import (
	"context"
	"sync"
	"time"

	"videodate-platform/internal/apperr"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	byRef map[string]Authorization
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byRef: map[string]Authorization{}} }

func (r *MemoryRepo) Insert(ctx context.Context, a Authorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[a.Ref]; ok {
		return apperr.ErrConflict
	}
	r.byRef[a.Ref] = a
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, ref string) (Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byRef[ref]
	if !ok {
		return Authorization{}, apperr.NotFound("payment authorization not found")
	}
	return a, nil
}

func (r *MemoryRepo) Settle(ctx context.Context, ref string, status Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byRef[ref]
	if !ok || a.Status != StatusPending {
		return false, nil
	}
	a.Status = status
	a.UpdatedAt = at
	r.byRef[ref] = a
	return true, nil
}
