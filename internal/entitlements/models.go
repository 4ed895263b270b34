package entitlements

import (
	"time"

	"videodate-platform/internal/apperr"
)

// Source is the allowance a single message is charged against.
type Source string

const (
	SourceFirstEncounter Source = "first_encounter"
	SourceDaily          Source = "daily"
	SourceCredits        Source = "credits"
)

// Snapshot is the ledger state relevant to one (user, match, day).
type Snapshot struct {
	DailySent               int
	Credits                 int
	FirstEncounterRemaining int
	MatchSentToday          int

	// LastVideoCallAt is set once the pair has completed a video call.
	LastVideoCallAt *time.Time
}

// ConsumeRequest charges exactly one Source and bumps the per-match counter.
// DailyCap and PerMatchCap are ceilings re-checked atomically by the repository.
type ConsumeRequest struct {
	UserID  string
	MatchID string
	Day     string
	Source  Source

	DailyCap    int
	PerMatchCap int // 0 means no ceiling

	At time.Time
}

// VideoCall is the ledger effect of one completed session.
type VideoCall struct {
	MatchID      string
	Month        string
	At           time.Time
	Participants []Participant
}

type Participant struct {
	UserID         string
	PartnerID      string
	FirstEncounter int
}

// Eligibility answers "can this user send a message in this match right now".
type Eligibility struct {
	Allowed   bool          `json:"allowed"`
	Source    Source        `json:"source,omitempty"`
	Exhausted *apperr.Error `json:"exhausted,omitempty"`
}

type Reward struct {
	Month           string `json:"month"`
	UniquePartners  int    `json:"unique_partners"`
	Threshold       int    `json:"threshold"`
	HasActiveReward bool   `json:"has_active_reward"`
}

// Status is the full entitlement view for a user, optionally scoped to a match.
type Status struct {
	Day               string    `json:"day"`
	Tier              string    `json:"tier"`
	DailyMessagesSent int       `json:"daily_messages_sent"`
	DailyMessageCap   int       `json:"daily_message_cap"`
	DailyResetsAt     time.Time `json:"daily_resets_at"`
	PurchasedCredits  int       `json:"purchased_credits"`

	MatchID                 string `json:"match_id,omitempty"`
	FirstEncounterRemaining int    `json:"first_encounter_remaining"`
	PerMatchSentToday       int    `json:"per_match_sent_today"`
	PerMatchCap             int    `json:"per_match_cap"`

	Reward Reward `json:"reward"`
}

// CreditClaim is the result of redeeming a paid credit pack.
type CreditClaim struct {
	Ref     string `json:"ref"`
	Granted bool   `json:"granted"`
	Credits int    `json:"credits"`
	Balance int    `json:"balance"`
}

// CreditPurchase is a pending authorization for one credit pack.
type CreditPurchase struct {
	Ref         string `json:"payment_reference"`
	Credits     int    `json:"credits"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}
