package entitlements

import (
	"errors"
	"testing"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"
)

func TestEvaluate_Order(t *testing.T) {
	c := membership.DefaultCatalog()
	resets := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	called := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		tier membership.Tier
		snap Snapshot
		want Source
	}{
		{"first encounter wins", membership.TierFree, Snapshot{FirstEncounterRemaining: 1, Credits: 3}, SourceFirstEncounter},
		{"daily before credits", membership.TierFree, Snapshot{DailySent: 14, Credits: 3}, SourceDaily},
		{"credits last", membership.TierFree, Snapshot{DailySent: 15, Credits: 1}, SourceCredits},
		{"business below ceiling", membership.TierBusiness, Snapshot{MatchSentToday: 29, LastVideoCallAt: &called}, SourceDaily},
		{"ceiling ignored before any video call", membership.TierBusiness, Snapshot{MatchSentToday: 99}, SourceDaily},
	}
	for _, tc := range cases {
		got, err := Evaluate(c, tc.tier, tc.snap, resets)
		if err != nil || got != tc.want {
			t.Fatalf("%s: expected %q, got %q (%v)", tc.name, tc.want, got, err)
		}
	}
}

func TestEvaluate_DailyExhaustedCarriesDetail(t *testing.T) {
	resets := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	_, err := Evaluate(membership.DefaultCatalog(), membership.TierFree, Snapshot{DailySent: 15}, resets)

	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindQuotaExceeded || e.Reason != ReasonDailyMessages {
		t.Fatalf("expected daily quota error, got %v", err)
	}
	d := e.Details.(*apperr.QuotaDetail)
	if d.Limit != 15 || d.Used != 15 || !d.CanPurchaseCredits || d.UpgradeTier != string(membership.TierCasual) {
		t.Fatalf("unexpected detail: %+v", d)
	}
	if d.ResetsAt == nil || !d.ResetsAt.Equal(resets) {
		t.Fatalf("expected reset time %v", resets)
	}
}

func TestEvaluate_PerMatchCeilingBlocksCredits(t *testing.T) {
	called := time.Now()
	_, err := Evaluate(membership.DefaultCatalog(), membership.TierBusiness,
		Snapshot{MatchSentToday: 30, Credits: 50, FirstEncounterRemaining: 5, LastVideoCallAt: &called}, time.Now())
	if !errors.Is(err, &apperr.Error{Kind: apperr.KindQuotaExceeded, Reason: ReasonPerMatchCap}) {
		t.Fatalf("expected per-match cap, got %v", err)
	}
}

func TestNextMidnight_UsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2026, 10, 14, 3, 30, 0, 0, time.UTC) // 23:30 on the 13th in New York
	if got := dayKey(now, loc); got != "2026-10-13" {
		t.Fatalf("expected New York day 2026-10-13, got %s", got)
	}
	want := time.Date(2026, 10, 14, 0, 0, 0, 0, loc)
	if got := nextMidnight(now, loc); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
