package calls

import (
	"context"
	"time"

	"videodate-platform/internal/apperr"
)

// ErrSessionEnded aborts a write that would touch an ended session.
var ErrSessionEnded = apperr.InvalidTransition(ReasonSessionEnded, "session has ended")

// Repository is the storage boundary for invitations, sessions, extensions and proposals.
//
// Invariants enforced here rather than in application code:
//   - Insert* return apperr.ErrConflict when a uniqueness gate (one pending invitation
//     per pair, one open extension per session, one open proposal per match) is hit.
//   - Every status change is a compare-and-swap on the current status and reports
//     false when another writer got there first.
//   - ExtendedSecondsTotal is only ever incremented in place.
type Repository interface {
	InsertInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	// AcceptInvitation moves a live pending invitation to accepted and inserts sess in one transaction.
	AcceptInvitation(ctx context.Context, invitationID string, sess Session, at time.Time) (bool, error)
	// ResolveInvitation moves a pending invitation to a terminal status.
	ResolveInvitation(ctx context.Context, id string, to InvitationStatus, resolvedAt time.Time, declineReason string) (bool, error)
	// ExpireInvitations marks every pending invitation past its deadline as expired.
	ExpireInvitations(ctx context.Context, now time.Time) (int64, error)
	PendingByCaller(ctx context.Context, callerID string) ([]Invitation, error)
	PendingByCallee(ctx context.Context, calleeID string) ([]Invitation, error)
	// LatestResolvedByCaller returns the newest invitation from callerID that left pending at or after since.
	LatestResolvedByCaller(ctx context.Context, callerID string, since time.Time) (Invitation, bool, error)

	InsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	HasEndedSession(ctx context.Context, matchID string) (bool, error)
	// CountSessionsSince counts sessions userID took part in that started at or after since.
	CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error)
	FirstSessionAt(ctx context.Context, userID string) (time.Time, bool, error)
	// MarkGrace moves an active session to grace_period, provided no extension
	// has been added since the caller read extendedSeconds.
	MarkGrace(ctx context.Context, id string, extendedSeconds int, graceExpiresAt time.Time) (bool, error)
	// EndSession moves a non-ended session to ended. Only one caller ever gets true.
	EndSession(ctx context.Context, id string, endedAt time.Time, endedBy string) (Session, bool, error)
	// ExpireSession ends a session that ran out of time. It applies only while
	// extended_seconds_total still equals extendedSeconds; otherwise it returns
	// the current row and false.
	ExpireSession(ctx context.Context, id string, extendedSeconds int, endedAt time.Time) (Session, bool, error)

	InsertExtension(ctx context.Context, e Extension) error
	GetExtension(ctx context.Context, id string) (Extension, error)
	OpenExtension(ctx context.Context, sessionID string) (Extension, bool, error)
	TransitionExtension(ctx context.Context, id string, from, to ExtensionStatus, patch ExtensionPatch) (bool, error)
	// CompleteExtension marks an awaiting_payment extension completed and adds its seconds
	// to the session in one transaction. It returns ErrSessionEnded if the session has ended.
	CompleteExtension(ctx context.Context, id string, at time.Time) (Session, bool, error)

	InsertProposal(ctx context.Context, p Proposal) error
	GetProposal(ctx context.Context, id string) (Proposal, error)
	TransitionProposal(ctx context.Context, id string, from, to ProposalStatus, at time.Time) (bool, error)
	// StartProposal moves an accepted proposal to started and inserts sess in one transaction.
	StartProposal(ctx context.Context, id string, sess Session, at time.Time) (bool, error)
}

// ExtensionPatch carries the columns written alongside a status change.
type ExtensionPatch struct {
	PaymentReference string
	ExpiresAt        *time.Time
	At               time.Time
}
