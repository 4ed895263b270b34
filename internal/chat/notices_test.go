package chat

import (
	"context"
	"testing"
)

func TestMemoryPoster_ScopesByMatch(t *testing.T) {
	p := NewMemoryPoster()
	ctx := context.Background()
	_ = p.PostSystemNotice(ctx, "m1", KindCallDeclined, "Call declined: busy")
	_ = p.PostSystemNotice(ctx, "m2", KindCallDeclined, "Call declined")

	got := p.Notices("m1")
	if len(got) != 1 || got[0].Body != "Call declined: busy" || got[0].Kind != KindCallDeclined {
		t.Fatalf("unexpected notices: %+v", got)
	}
}
