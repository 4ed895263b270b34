package entitlements

import (
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"
)

const (
	ReasonPerMatchCap   = "per_match_cap"
	ReasonDailyMessages = "daily_messages"
)

// Evaluate decides which source the next message is charged against. It has no side effects.
//
// Order:
//  1. per-match daily ceiling (only after a video call, only for tiers that set one); blocks outright
//  2. first-encounter allowance for the match
//  3. tier daily allowance
//  4. purchased credits
func Evaluate(c membership.Catalog, tier membership.Tier, s Snapshot, resetsAt time.Time) (Source, error) {
	l := c.For(tier)

	if ceiling := perMatchCap(l, s); ceiling > 0 && s.MatchSentToday >= ceiling {
		r := resetsAt
		return "", apperr.Quota(ReasonPerMatchCap, apperr.QuotaDetail{
			Allowance: "per_match_daily_messages",
			Limit:     ceiling,
			Used:      s.MatchSentToday,
			ResetsAt:  &r,
		})
	}

	if s.FirstEncounterRemaining > 0 {
		return SourceFirstEncounter, nil
	}
	if s.DailySent < l.DailyMessageCap {
		return SourceDaily, nil
	}
	if s.Credits > 0 {
		return SourceCredits, nil
	}

	r := resetsAt
	d := apperr.QuotaDetail{
		Allowance:          "daily_messages",
		Limit:              l.DailyMessageCap,
		Used:               s.DailySent,
		ResetsAt:           &r,
		CanPurchaseCredits: true,
	}
	if up, ok := c.UpgradeFor(tier, func(o membership.Limits) bool { return o.DailyMessageCap > l.DailyMessageCap }); ok {
		d.UpgradeTier = string(up)
	}
	return "", apperr.Quota(ReasonDailyMessages, d)
}

func perMatchCap(l membership.Limits, s Snapshot) int {
	if s.LastVideoCallAt == nil {
		return 0
	}
	return l.PerMatchDailyCapAfterVideo
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func monthKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}

// nextMidnight is the start of the next local day.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
