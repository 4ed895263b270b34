package members

import (
	"context"
	"errors"
	"testing"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"
)

func TestMatchHasAndOther(t *testing.T) {
	m := Match{ID: "m1", UserA: "a", UserB: "b"}
	if !m.Has("a") || !m.Has("b") || m.Has("c") || m.Has("") {
		t.Fatalf("unexpected Has results")
	}
	if m.Other("a") != "b" || m.Other("b") != "a" || m.Other("c") != "" {
		t.Fatalf("unexpected Other results")
	}
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.PutUser(User{ID: "a", Tier: membership.TierDating})

	tier, err := d.TierOf(ctx, "a")
	if err != nil || tier != membership.TierDating {
		t.Fatalf("expected dating, got %q (%v)", tier, err)
	}
	if _, err := d.GetUser(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.GetMatch(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
