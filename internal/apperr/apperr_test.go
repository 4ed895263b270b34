package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesKindAndReason(t *testing.T) {
	err := Conflict("invitation_in_flight", "caller already ringing")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected kind match")
	}
	if !errors.Is(err, &Error{Kind: KindConflict, Reason: "invitation_in_flight"}) {
		t.Fatalf("expected reason match")
	}
	if errors.Is(err, &Error{Kind: KindConflict, Reason: "negotiation_in_flight"}) {
		t.Fatalf("expected reason mismatch")
	}
	if errors.Is(err, ErrExpired) {
		t.Fatalf("expected kind mismatch")
	}
}

func TestKindOf_WrappedAndForeign(t *testing.T) {
	wrapped := fmt.Errorf("respond: %w", Expired("invitation expired"))
	if got := KindOf(wrapped); got != KindExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if got := KindOf(errors.New("db down")); got != KindInternal {
		t.Fatalf("expected internal, got %s", got)
	}
}

func TestQuota_CarriesDetail(t *testing.T) {
	err := Quota("daily_messages", QuotaDetail{Allowance: "daily_messages", Limit: 15, Used: 15, CanPurchaseCredits: true})
	e, ok := As(err)
	if !ok {
		t.Fatalf("expected typed error")
	}
	d, ok := e.Details.(*QuotaDetail)
	if !ok || d.Limit != 15 {
		t.Fatalf("unexpected details: %#v", e.Details)
	}
}
