package calls

import (
	"context"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/audit"
	"videodate-platform/internal/config"
	"videodate-platform/internal/members"
	"videodate-platform/internal/membership"
	"videodate-platform/internal/payments"
	"videodate-platform/internal/pricing"
	"videodate-platform/internal/video"
	"videodate-platform/pkg/logger"
)

// Reason codes returned in apperr.Error.Reason. Keep stable; clients switch on them.
const (
	ReasonNoCallHistory       = "no_call_history"
	ReasonInvitationInFlight  = "invitation_in_flight"
	ReasonAlreadyResponded    = "already_responded"
	ReasonNegotiationInFlight = "negotiation_in_flight"
	ReasonNegotiationClosed   = "negotiation_closed"
	ReasonTierUnavailable     = "tier_unavailable"
	ReasonTrialExpired        = "trial_expired"
	ReasonDailyVideoCalls     = "daily_video_calls"
	ReasonRingRate            = "ring_rate"
	ReasonPaymentFailed       = "payment_failed"
	ReasonPaymentPending      = "payment_pending"
	ReasonPaymentRefMismatch  = "payment_reference_mismatch"
	ReasonSessionEnded        = "session_ended"
	ReasonDurationRemaining   = "duration_remaining"
	ReasonProposalInFlight    = "proposal_in_flight"
	ReasonProposalNotAccepted = "proposal_not_accepted"
	ReasonOutsideJoinWindow   = "outside_join_window"
)

// Ledger is notified exactly once per session when it ends.
type Ledger interface {
	OnVideoCallEnded(ctx context.Context, matchID, userA, userB string, at time.Time) error
}

// PaymentCollaborator authorizes extension charges.
type PaymentCollaborator interface {
	CreateAuthorization(ctx context.Context, payerID string, amountCents int64, metadata map[string]string) (string, error)
	GetAuthorizationStatus(ctx context.Context, ref string) (payments.Status, error)
}

// NoticePoster writes system messages into a match conversation.
type NoticePoster interface {
	PostSystemNotice(ctx context.Context, matchID, kind, body string) error
}

// RingLimiter bounds how often one caller can ring. See utils.FixedWindowLimiter.
type RingLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

// Deps wires a Service. RingLimiter, Notices and Audit are optional.
type Deps struct {
	Repo        Repository
	Directory   members.Directory
	Catalog     membership.Catalog
	Ledger      Ledger
	Rooms       video.Provider
	Payments    PaymentCollaborator
	Pricing     *pricing.Service
	Notices     NoticePoster
	RingLimiter RingLimiter
	Audit       *audit.Service

	Config config.CallsConfig
	// Location defines "today" for daily call caps.
	Location *time.Location
}

// Service runs the invitation handshake, the session lifecycle, extension
// negotiation and scheduled proposals. It holds no per-call state: every
// timed transition is evaluated lazily against the clock.
type Service struct {
	repo     Repository
	dir      members.Directory
	catalog  membership.Catalog
	ledger   Ledger
	rooms    video.Provider
	payments PaymentCollaborator
	pricing  *pricing.Service
	notices  NoticePoster
	ring     RingLimiter
	audit    *audit.Service
	cfg      config.CallsConfig
	loc      *time.Location

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:     d.Repo,
		dir:      d.Directory,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		rooms:    d.Rooms,
		payments: d.Payments,
		pricing:  d.Pricing,
		notices:  d.Notices,
		ring:     d.RingLimiter,
		audit:    d.Audit,
		cfg:      d.Config,
		loc:      loc,
		clock:    time.Now,
	}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// matchFor loads the match and checks userID is in it.
func (s *Service) matchFor(ctx context.Context, matchID, userID string) (members.Match, error) {
	if matchID == "" || userID == "" {
		return members.Match{}, apperr.Invalid("match and user required")
	}
	m, err := s.dir.GetMatch(ctx, matchID)
	if err != nil {
		return members.Match{}, err
	}
	if !m.Has(userID) {
		return members.Match{}, apperr.Unauthorized("not a participant of this match")
	}
	return m, nil
}

// requireCalling returns TierForbidden unless both users' tiers can call.
func (s *Service) requireCalling(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		tier, err := s.dir.TierOf(ctx, id)
		if err != nil {
			return err
		}
		if s.catalog.For(tier).CanCall {
			continue
		}
		d := apperr.TierDetail{CurrentTier: string(tier)}
		if up, ok := s.catalog.UpgradeFor(tier, func(l membership.Limits) bool { return l.CanCall }); ok {
			d.RequiredTier = string(up)
		}
		return apperr.Tier(ReasonTierUnavailable, d)
	}
	return nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// warn logs a best-effort failure without failing the request.
func warn(ctx context.Context, msg string, err error, attrs ...any) {
	logger.From(ctx).Warn(msg, append(attrs, "err", err)...)
}

func logError(ctx context.Context, msg string, err error, attrs ...any) {
	logger.From(ctx).Error(msg, append(attrs, "err", err)...)
}
