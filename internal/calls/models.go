package calls

import "time"

// Every time-bounded row in this package is expired lazily: readers compare its
// deadline with the clock and write back the terminal state best-effort.

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is an instant-call ring from caller to callee.
// At most one pending invitation exists per unordered (caller, callee) pair.
type Invitation struct {
	ID       string           `json:"id" db:"id"`
	MatchID  string           `json:"match_id" db:"match_id"`
	CallerID string           `json:"caller_id" db:"caller_id"`
	CalleeID string           `json:"callee_id" db:"callee_id"`
	Status   InvitationStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// ResolvedAt is when the invitation left pending (for expiry, its deadline).
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	SessionID     string `json:"session_id,omitempty" db:"session_id"`
	RoomURL       string `json:"room_url,omitempty" db:"room_url"`
	DeclineReason string `json:"decline_reason,omitempty" db:"decline_reason"`
}

type SessionState string

const (
	SessionActive      SessionState = "active"
	SessionGracePeriod SessionState = "grace_period"
	SessionEnded       SessionState = "ended"
)

// Origin records how a session was started.
type Origin string

const (
	OriginInstant   Origin = "instant"
	OriginScheduled Origin = "scheduled"
)

// Session is a video call's duration envelope.
// ExtendedSecondsTotal only ever grows, and only through completed extensions.
type Session struct {
	ID       string `json:"id" db:"id"`
	MatchID  string `json:"match_id" db:"match_id"`
	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`
	Origin   Origin `json:"origin" db:"origin"`

	RoomName string `json:"-" db:"room_name"`
	RoomURL  string `json:"room_url" db:"room_url"`

	StartedAt            time.Time    `json:"started_at" db:"started_at"`
	BaseDurationSeconds  int          `json:"base_duration_seconds" db:"base_duration_seconds"`
	ExtendedSecondsTotal int          `json:"extended_seconds_total" db:"extended_seconds_total"`
	State                SessionState `json:"state" db:"state"`
	GraceExpiresAt       *time.Time   `json:"grace_expires_at,omitempty" db:"grace_expires_at"`
	EndedAt              *time.Time   `json:"ended_at,omitempty" db:"ended_at"`

	// EndedBy is empty when the session ran out of time.
	EndedBy string `json:"ended_by,omitempty" db:"ended_by"`
}

func (s Session) Has(userID string) bool {
	return userID != "" && (s.CallerID == userID || s.CalleeID == userID)
}

func (s Session) Other(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

func (s Session) TotalSeconds() int { return s.BaseDurationSeconds + s.ExtendedSecondsTotal }

// DurationEndsAt is when the allowed time (base plus extensions) runs out.
func (s Session) DurationEndsAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.TotalSeconds()) * time.Second)
}

// RemainingSeconds derives from wall-clock time, never from a counted timer.
func (s Session) RemainingSeconds(now time.Time) int {
	left := s.TotalSeconds() - int(now.Sub(s.StartedAt)/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

type ExtensionStatus string

const (
	ExtensionPendingAcceptance ExtensionStatus = "pending_acceptance"
	ExtensionAwaitingPayment   ExtensionStatus = "awaiting_payment"
	ExtensionCompleted         ExtensionStatus = "completed"
	ExtensionDeclined          ExtensionStatus = "declined"
	ExtensionExpired           ExtensionStatus = "expired"
	ExtensionPaymentFailed     ExtensionStatus = "payment_failed"
)

func (s ExtensionStatus) Terminal() bool {
	return s != ExtensionPendingAcceptance && s != ExtensionAwaitingPayment
}

// Extension is a paid time-extension negotiation scoped to one session.
// At most one non-terminal extension exists per session.
type Extension struct {
	ID          string          `json:"id" db:"id"`
	SessionID   string          `json:"session_id" db:"session_id"`
	InitiatorID string          `json:"initiator_id" db:"initiator_id"`
	ResponderID string          `json:"responder_id" db:"responder_id"`
	Status      ExtensionStatus `json:"status" db:"status"`

	AmountCents      int64  `json:"amount_cents" db:"amount_cents"`
	Currency         string `json:"currency" db:"currency"`
	ExtensionSeconds int    `json:"extension_seconds" db:"extension_seconds"`
	PaymentReference string `json:"payment_reference,omitempty" db:"payment_reference"`

	// ExpiresAt is the response deadline while pending_acceptance and the
	// payment deadline while awaiting_payment.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalDeclined ProposalStatus = "declined"
	ProposalExpired  ProposalStatus = "expired"
	ProposalStarted  ProposalStatus = "started"
)

// Proposal is a one-off scheduled call between the two members of a match.
type Proposal struct {
	ID          string         `json:"id" db:"id"`
	MatchID     string         `json:"match_id" db:"match_id"`
	ProposerID  string         `json:"proposer_id" db:"proposer_id"`
	ResponderID string         `json:"responder_id" db:"responder_id"`
	ScheduledAt time.Time      `json:"scheduled_at" db:"scheduled_at"`
	Status      ProposalStatus `json:"status" db:"status"`
	SessionID   string         `json:"session_id,omitempty" db:"session_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Action is a participant's answer to an invitation, extension or proposal.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// isExpired reports whether deadline has passed at now.
func isExpired(deadline, now time.Time) bool {
	return now.After(deadline)
}
