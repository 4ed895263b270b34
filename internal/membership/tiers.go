package membership

import (
	"fmt"
	"strings"
)

// Tier names. Keep these stable; they are stored in users.tier and returned to clients.
type Tier string

const (
	TierFree     Tier = "free"
	TierCasual   Tier = "casual"
	TierDating   Tier = "dating"
	TierBusiness Tier = "business"
)

// ordered lowest to highest.
var ordered = []Tier{TierFree, TierCasual, TierDating, TierBusiness}

func (t Tier) rank() int {
	for i, o := range ordered {
		if o == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool { return t.rank() >= 0 }

// AtLeast reports whether t is the same as or above min.
func (t Tier) AtLeast(min Tier) bool {
	return t.Valid() && t.rank() >= min.rank()
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Limits are the per-tier allowances enforced by calls and the entitlement ledger.
type Limits struct {
	CallMinutes            int
	DailyMessageCap        int
	DailyVideoCallCap      int
	FirstEncounterMessages int

	// PerMatchDailyCapAfterVideo is a hard ceiling on messages per match per day once
	// the pair has had a video call. Zero means no ceiling.
	PerMatchDailyCapAfterVideo int

	CanCall     bool
	CanSchedule bool

	// TrialDays bounds calling to a window anchored at the user's first-ever call. Zero means unbounded.
	TrialDays int
}

// Catalog maps every tier to its limits.
type Catalog map[Tier]Limits

// DefaultCatalog is the production tier table.
func DefaultCatalog() Catalog {
	return Catalog{
		TierFree: {
			CallMinutes: 5, DailyMessageCap: 15, DailyVideoCallCap: 1, FirstEncounterMessages: 5,
			CanCall: true, CanSchedule: true, TrialDays: 14,
		},
		TierCasual: {
			CallMinutes: 0, DailyMessageCap: 30, DailyVideoCallCap: 0, FirstEncounterMessages: 5,
		},
		TierDating: {
			CallMinutes: 15, DailyMessageCap: 50, DailyVideoCallCap: 3, FirstEncounterMessages: 10,
			CanCall: true, CanSchedule: true,
		},
		TierBusiness: {
			CallMinutes: 45, DailyMessageCap: 100, DailyVideoCallCap: 10, FirstEncounterMessages: 20,
			PerMatchDailyCapAfterVideo: 30, CanCall: true, CanSchedule: true,
		},
	}
}

// For returns the limits of t; unknown tiers get the zero value (nothing allowed).
func (c Catalog) For(t Tier) Limits {
	return c[t]
}

// UpgradeFor returns the lowest tier above t whose limits satisfy ok.
func (c Catalog) UpgradeFor(t Tier, ok func(Limits) bool) (Tier, bool) {
	for _, o := range ordered {
		if o.rank() <= t.rank() {
			continue
		}
		if l, found := c[o]; found && ok(l) {
			return o, true
		}
	}
	return "", false
}
