package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/audit"
	"videodate-platform/internal/chat"
	"videodate-platform/internal/config"
	"videodate-platform/internal/members"
	"videodate-platform/internal/membership"
	"videodate-platform/internal/payments"
	"videodate-platform/internal/pricing"
	"videodate-platform/internal/video"

	"github.com/stretchr/testify/require"
)

type recordingLedger struct {
	mu    sync.Mutex
	ended []string
}

func (l *recordingLedger) OnVideoCallEnded(ctx context.Context, matchID, userA, userB string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, matchID)
	return nil
}

func (l *recordingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ended)
}

type stubRing struct {
	allow bool
	err   error
}

func (r stubRing) Allow(ctx context.Context, key string) (bool, error) { return r.allow, r.err }
func (r stubRing) Limit() int                                          { return 5 }
func (r stubRing) Window() time.Duration                               { return 10 * time.Minute }

// failingWrites serves reads from the memory repo and fails every lazy-expiry write.
type failingWrites struct {
	*MemoryRepo
}

var errWriteDown = errors.New("write unavailable")

func (r failingWrites) ResolveInvitation(ctx context.Context, id string, to InvitationStatus, resolvedAt time.Time, declineReason string) (bool, error) {
	return false, errWriteDown
}

func (r failingWrites) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	return 0, errWriteDown
}

func (r failingWrites) TransitionExtension(ctx context.Context, id string, from, to ExtensionStatus, patch ExtensionPatch) (bool, error) {
	return false, errWriteDown
}

func (r failingWrites) MarkGrace(ctx context.Context, id string, extendedSeconds int, graceExpiresAt time.Time) (bool, error) {
	return false, errWriteDown
}

func (r failingWrites) ExpireSession(ctx context.Context, id string, extendedSeconds int, endedAt time.Time) (Session, bool, error) {
	return Session{}, false, errWriteDown
}

// expiryRace moves one extension out of awaiting_payment just before the
// service tries to mark its payment failed.
type expiryRace struct {
	*MemoryRepo
}

func (r expiryRace) TransitionExtension(ctx context.Context, id string, from, to ExtensionStatus, patch ExtensionPatch) (bool, error) {
	if to == ExtensionPaymentFailed {
		if _, err := r.MemoryRepo.TransitionExtension(ctx, id, from, ExtensionExpired, patch); err != nil {
			return false, err
		}
	}
	return r.MemoryRepo.TransitionExtension(ctx, id, from, to, patch)
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	dir      *members.MemoryDirectory
	ledger   *recordingLedger
	payments *payments.Service
	notices  *chat.MemoryPoster
	audit    *audit.MemoryRepo
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo lets a test put a wrapper in front of the memory repo.
func newFixtureWithRepo(t *testing.T, wrap func(*MemoryRepo) Repository) *fixture {
	t.Helper()
	f := &fixture{
		repo:    NewMemoryRepo(),
		dir:     members.NewMemoryDirectory(),
		ledger:  &recordingLedger{},
		notices: chat.NewMemoryPoster(),
		audit:   audit.NewMemoryRepo(),
		now:     time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
	for id, tier := range map[string]membership.Tier{
		"f1": membership.TierFree, "f2": membership.TierFree,
		"b1": membership.TierBusiness, "c1": membership.TierCasual,
		"d1": membership.TierDating, "d2": membership.TierDating, "d3": membership.TierDating,
	} {
		f.dir.PutUser(members.User{ID: id, Tier: tier})
	}
	f.dir.PutMatch(members.Match{ID: "m-free", UserA: "f1", UserB: "f2"})
	f.dir.PutMatch(members.Match{ID: "m-mixed", UserA: "b1", UserB: "f1"})
	f.dir.PutMatch(members.Match{ID: "m-casual", UserA: "d1", UserB: "c1"})
	f.dir.PutMatch(members.Match{ID: "m-12", UserA: "d1", UserB: "d2"})
	f.dir.PutMatch(members.Match{ID: "m-13", UserA: "d1", UserB: "d3"})
	f.dir.PutMatch(members.Match{ID: "m-23", UserA: "d2", UserB: "d3"})

	signer, err := video.NewTokenSigner("video-secret", time.Hour)
	require.NoError(t, err)
	f.payments = payments.NewService(payments.NewMemoryRepo(), "USD")
	prices := &pricing.MemoryRepo{Prices: []pricing.Price{
		{ID: "x", Product: pricing.ProductCallExtension, Currency: "USD", AmountCents: 299, Units: 600, Status: pricing.PriceStatusActive},
	}}
	var repo Repository = f.repo
	if wrap != nil {
		repo = wrap(f.repo)
	}
	f.svc = NewService(Deps{
		Repo:      repo,
		Directory: f.dir,
		Catalog:   membership.DefaultCatalog(),
		Ledger:    f.ledger,
		Rooms:     video.NewMemoryProvider("https://video.test", signer),
		Payments:  f.payments,
		Pricing:   pricing.NewService(prices, 0),
		Notices:   f.notices,
		Audit:     audit.NewService(f.audit),
		Config: config.CallsConfig{
			InviteTTL:            60 * time.Second,
			CallerVisibility:     30 * time.Second,
			GracePeriod:          60 * time.Second,
			ProposalJoinWindow:   15 * time.Minute,
			ExtensionResponseTTL: 60 * time.Second,
			ExtensionPaymentTTL:  5 * time.Minute,
		},
		Location: time.UTC,
	})
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// seedHistory records a finished call between the pair the day before.
func (f *fixture) seedHistory(t *testing.T, matchID, a, b string) {
	t.Helper()
	start := f.now.Add(-24 * time.Hour)
	end := start.Add(5 * time.Minute)
	require.NoError(t, f.repo.InsertSession(context.Background(), Session{
		ID: "hist-" + matchID, MatchID: matchID, CallerID: a, CalleeID: b, Origin: OriginScheduled,
		StartedAt: start, BaseDurationSeconds: 300, State: SessionEnded, EndedAt: &end,
	}))
}

func (f *fixture) settlePayment(t *testing.T, ref string, status payments.Status) {
	t.Helper()
	_, err := f.payments.Settle(context.Background(), ref, status)
	require.NoError(t, err)
}

func requireReason(t *testing.T, err error, kind apperr.Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected typed error, got %v", err)
	require.Equal(t, kind, e.Kind)
	require.Equal(t, reason, e.Reason)
}

func TestCreateSession_BaseIsLesserTierAllowance(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), "m-mixed", "b1", "f1")
	require.NoError(t, err)
	require.Equal(t, 300, sess.BaseDurationSeconds)
	require.Equal(t, SessionActive, sess.State)
	require.NotEmpty(t, sess.RoomURL)
}

func TestCreateSession_CasualCannotCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSession(context.Background(), "m-casual", "d1", "c1")
	requireReason(t, err, apperr.KindTierForbidden, ReasonTierUnavailable)
	e, _ := apperr.As(err)
	require.Equal(t, "casual", e.Details.(*apperr.TierDetail).CurrentTier)
}

func TestCreateInvitation_RequiresCallHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateInvitation(context.Background(), "d1", "m-12")
	requireReason(t, err, apperr.KindInvalidTransition, ReasonNoCallHistory)
}

func TestCreateInvitation_NonParticipant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateInvitation(context.Background(), "d3", "m-12")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestInvitation_AcceptWithinDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")

	inv, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)

	ring, err := f.svc.PollForCallee(ctx, "d2")
	require.NoError(t, err)
	require.NotNil(t, ring)
	require.Equal(t, inv.ID, ring.Invitation.ID)
	require.Equal(t, 60, ring.RemainingSeconds)

	f.advance(59 * time.Second)
	res, err := f.svc.RespondToInvitation(ctx, "d2", inv.ID, ActionAccept, "")
	require.NoError(t, err)
	require.Equal(t, InvitationAccepted, res.Invitation.Status)
	require.NotNil(t, res.Session)
	require.Equal(t, 900, res.Session.BaseDurationSeconds)
	require.NotEmpty(t, res.Join.Token)

	poll, err := f.svc.PollForCaller(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, poll)
	require.Equal(t, InvitationAccepted, poll.Invitation.Status)
	require.Equal(t, res.Session.ID, poll.Invitation.SessionID)
}

func TestInvitation_AcceptAfterDeadlineIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")

	inv, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)

	f.advance(61 * time.Second)
	_, err = f.svc.RespondToInvitation(ctx, "d2", inv.ID, ActionAccept, "")
	require.ErrorIs(t, err, apperr.ErrExpired)

	poll, err := f.svc.PollForCaller(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, poll)
	require.Equal(t, InvitationExpired, poll.Invitation.Status)

	ring, err := f.svc.PollForCallee(ctx, "d2")
	require.NoError(t, err)
	require.Nil(t, ring)

	// Outside the visibility window the caller sees nothing.
	f.advance(31 * time.Second)
	poll, err = f.svc.PollForCaller(ctx, "d1")
	require.NoError(t, err)
	require.Nil(t, poll)
}

func TestInvitation_OnePendingPerPairAndCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")
	f.seedHistory(t, "m-13", "d1", "d3")

	_, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)

	_, err = f.svc.CreateInvitation(ctx, "d2", "m-12")
	requireReason(t, err, apperr.KindConflict, ReasonInvitationInFlight)

	_, err = f.svc.CreateInvitation(ctx, "d1", "m-13")
	requireReason(t, err, apperr.KindConflict, ReasonInvitationInFlight)

	// Being rung also counts.
	f.seedHistory(t, "m-23", "d2", "d3")
	_, err = f.svc.CreateInvitation(ctx, "d2", "m-23")
	requireReason(t, err, apperr.KindConflict, ReasonInvitationInFlight)

	// Once the first ring lapses the caller may ring again.
	f.advance(61 * time.Second)
	_, err = f.svc.CreateInvitation(ctx, "d1", "m-13")
	require.NoError(t, err)
}

func TestInvitation_DeclinePostsNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")
	inv, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)

	_, err = f.svc.RespondToInvitation(ctx, "d1", inv.ID, ActionDecline, "")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	res, err := f.svc.RespondToInvitation(ctx, "d2", inv.ID, ActionDecline, "busy")
	require.NoError(t, err)
	require.Equal(t, InvitationDeclined, res.Invitation.Status)

	notices := f.notices.Notices("m-12")
	require.Len(t, notices, 1)
	require.Equal(t, chat.KindCallDeclined, notices[0].Kind)

	_, err = f.svc.RespondToInvitation(ctx, "d2", inv.ID, ActionAccept, "")
	requireReason(t, err, apperr.KindInvalidTransition, ReasonAlreadyResponded)
}

func TestCreateInvitation_DailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-free", "f1", "f2")
	_, err := f.svc.CreateSession(ctx, "m-free", "f1", "f2")
	require.NoError(t, err)

	_, err = f.svc.CreateInvitation(ctx, "f1", "m-free")
	requireReason(t, err, apperr.KindQuotaExceeded, ReasonDailyVideoCalls)
	e, _ := apperr.As(err)
	d := e.Details.(*apperr.QuotaDetail)
	require.Equal(t, 1, d.Limit)
	require.Equal(t, "dating", d.UpgradeTier)
	require.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), *d.ResetsAt)
}

func TestCreateInvitation_FreeTrialExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-free", "f1", "f2")

	f.advance(14 * 24 * time.Hour)
	_, err := f.svc.CreateInvitation(ctx, "f1", "m-free")
	requireReason(t, err, apperr.KindTierForbidden, ReasonTrialExpired)
	e, _ := apperr.As(err)
	require.Equal(t, "dating", e.Details.(*apperr.TierDetail).RequiredTier)
}

func TestCreateInvitation_RingLimiter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")

	f.svc.ring = stubRing{allow: false}
	_, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	requireReason(t, err, apperr.KindQuotaExceeded, ReasonRingRate)

	// A broken limiter lets the call through.
	f.svc.ring = stubRing{err: errors.New("redis down")}
	_, err = f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)
}

func TestSession_GraceThenNaturalEndNotifiesLedgerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	f.advance(600 * time.Second)
	v, err := f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Equal(t, 300, v.RemainingSeconds)
	require.False(t, v.IsInGracePeriod)

	f.advance(310 * time.Second)
	v, err = f.svc.GetSessionView(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, 0, v.RemainingSeconds)
	require.True(t, v.IsInGracePeriod)
	require.Equal(t, SessionGracePeriod, v.Session.State)

	f.advance(60 * time.Second)
	v, err = f.svc.GetSessionView(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, SessionEnded, v.Session.State)
	require.Empty(t, v.Session.EndedBy)

	_, err = f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Equal(t, 1, f.ledger.count())
	require.Len(t, f.audit.OfType(audit.EventTypeSessionEnded), 1)

	_, err = f.svc.JoinSession(ctx, sess.ID, "d1")
	requireReason(t, err, apperr.KindInvalidTransition, ReasonSessionEnded)
}

func TestTransitionState_EndIsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	_, err = f.svc.TransitionState(ctx, sess.ID, "d1", SessionGracePeriod)
	requireReason(t, err, apperr.KindInvalidTransition, ReasonDurationRemaining)

	v, err := f.svc.TransitionState(ctx, sess.ID, "d2", SessionEnded)
	require.NoError(t, err)
	require.Equal(t, "d2", v.Session.EndedBy)

	_, err = f.svc.TransitionState(ctx, sess.ID, "d1", SessionEnded)
	requireReason(t, err, apperr.KindInvalidTransition, ReasonSessionEnded)
	require.Equal(t, 1, f.ledger.count())

	_, err = f.svc.GetSessionView(ctx, sess.ID, "d3")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestExtension_PaidFlowIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, int64(299), ext.AmountCents)
	require.Equal(t, "d2", ext.ResponderID)

	_, err = f.svc.RequestExtension(ctx, sess.ID, "d2")
	requireReason(t, err, apperr.KindConflict, ReasonNegotiationInFlight)

	_, err = f.svc.RespondToExtension(ctx, ext.ID, "d1", ActionAccept)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionAccept)
	require.NoError(t, err)
	require.Equal(t, ExtensionAwaitingPayment, ext.Status)
	require.NotEmpty(t, ext.PaymentReference)

	_, err = f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	requireReason(t, err, apperr.KindPaymentNotAuthorized, ReasonPaymentPending)

	_, err = f.svc.ConfirmPayment(ctx, ext.ID, "d1", "pay_other")
	requireReason(t, err, apperr.KindInvalid, ReasonPaymentRefMismatch)

	f.settlePayment(t, ext.PaymentReference, payments.StatusSucceeded)
	res, err := f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, ExtensionCompleted, res.Extension.Status)
	require.Equal(t, 600, res.Session.ExtendedSecondsTotal)

	again, err := f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, 600, again.Session.ExtendedSecondsTotal)
	require.Len(t, f.audit.OfType(audit.EventTypeExtensionCompleted), 1)

	v, err := f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Equal(t, 1500, v.RemainingSeconds)
	require.Nil(t, v.Extension)
}

func TestExtension_CompletingInGraceResumesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)
	f.advance(920 * time.Second)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d2")
	require.NoError(t, err)
	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d1", ActionAccept)
	require.NoError(t, err)
	f.settlePayment(t, ext.PaymentReference, payments.StatusSucceeded)
	res, err := f.svc.ConfirmPayment(ctx, ext.ID, "d2", ext.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, SessionActive, res.Session.State)

	v, err := f.svc.GetSessionView(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.False(t, v.IsInGracePeriod)
	require.Equal(t, 580, v.RemainingSeconds)
}

func TestExtension_DeclineAllowsNewRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionDecline)
	require.NoError(t, err)
	require.Equal(t, ExtensionDeclined, ext.Status)

	_, err = f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
}

func TestExtension_ResponseDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	f.advance(61 * time.Second)

	v, err := f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Nil(t, v.Extension)

	_, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionAccept)
	require.ErrorIs(t, err, apperr.ErrExpired)

	_, err = f.svc.RequestExtension(ctx, sess.ID, "d2")
	require.NoError(t, err)
}

func TestExtension_FailedPaymentIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionAccept)
	require.NoError(t, err)
	f.settlePayment(t, ext.PaymentReference, payments.StatusFailed)

	_, err = f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	requireReason(t, err, apperr.KindPaymentNotAuthorized, ReasonPaymentFailed)
	e, _ := apperr.As(err)
	require.True(t, e.Retryable)
	require.Len(t, f.audit.OfType(audit.EventTypeExtensionPaymentFailed), 1)

	_, err = f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	got, err := f.svc.GetSessionView(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, 0, got.Session.ExtendedSecondsTotal)
}

func TestExtension_RejectedOnEndedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)
	_, err = f.svc.TransitionState(ctx, sess.ID, "d1", SessionEnded)
	require.NoError(t, err)

	_, err = f.svc.RequestExtension(ctx, sess.ID, "d2")
	requireReason(t, err, apperr.KindInvalidTransition, ReasonSessionEnded)
}

func TestProposal_ScheduledCallLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := f.now.Add(2 * time.Hour)

	p, err := f.svc.ProposeCall(ctx, "d1", "m-12", at)
	require.NoError(t, err)
	_, err = f.svc.ProposeCall(ctx, "d2", "m-12", at)
	requireReason(t, err, apperr.KindConflict, ReasonProposalInFlight)

	_, err = f.svc.StartScheduledCall(ctx, "d1", p.ID)
	requireReason(t, err, apperr.KindInvalidTransition, ReasonProposalNotAccepted)

	p, err = f.svc.RespondToProposal(ctx, "d2", p.ID, ActionAccept)
	require.NoError(t, err)
	require.Equal(t, ProposalAccepted, p.Status)

	_, err = f.svc.StartScheduledCall(ctx, "d1", p.ID)
	requireReason(t, err, apperr.KindInvalidTransition, ReasonOutsideJoinWindow)

	f.advance(2*time.Hour - 5*time.Minute)
	first, err := f.svc.StartScheduledCall(ctx, "d1", p.ID)
	require.NoError(t, err)
	require.Equal(t, OriginScheduled, first.Session.Origin)
	require.Equal(t, ProposalStarted, first.Proposal.Status)

	second, err := f.svc.StartScheduledCall(ctx, "d2", p.ID)
	require.NoError(t, err)
	require.Equal(t, first.Session.ID, second.Session.ID)
	require.NotEqual(t, first.Join.Token, second.Join.Token)
}

func TestProposal_LapsesAfterJoinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.ProposeCall(ctx, "d1", "m-12", f.now.Add(time.Hour))
	require.NoError(t, err)

	f.advance(time.Hour + 16*time.Minute)
	_, err = f.svc.RespondToProposal(ctx, "d2", p.ID, ActionAccept)
	require.ErrorIs(t, err, apperr.ErrExpired)

	got, err := f.svc.GetProposal(ctx, p.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, ProposalExpired, got.Status)

	_, err = f.svc.ProposeCall(ctx, "c1", "m-casual", f.now.Add(time.Hour))
	requireReason(t, err, apperr.KindTierForbidden, ReasonTierUnavailable)
}

func TestCreateInvitation_CalleeDailyCapOnAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedHistory(t, "m-free", "f1", "f2")
	require.NoError(t, f.repo.InsertSession(ctx, Session{
		ID: "today-f2", MatchID: "m-elsewhere", CallerID: "b1", CalleeID: "f2", Origin: OriginInstant,
		StartedAt: f.now.Add(-time.Hour), BaseDurationSeconds: 300, State: SessionEnded,
	}))

	inv, err := f.svc.CreateInvitation(ctx, "f1", "m-free")
	require.NoError(t, err)
	_, err = f.svc.RespondToInvitation(ctx, "f2", inv.ID, ActionAccept, "")
	requireReason(t, err, apperr.KindQuotaExceeded, ReasonDailyVideoCalls)

	got, err := f.repo.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvitationPending, got.Status)
}

func TestMemoryRepo_DeclineAfterDeadlineDoesNotApply(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertInvitation(ctx, Invitation{ID: "i1", MatchID: "m", CallerID: "a", CalleeID: "b",
		Status: InvitationPending, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	ok, err := repo.ResolveInvitation(ctx, "i1", InvitationDeclined, now.Add(61*time.Second), "busy")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.ResolveInvitation(ctx, "i1", InvitationExpired, now.Add(time.Minute), "")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSession_StaleReaderKeepsPaidExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	f.advance(930 * time.Second)
	stale, err := f.svc.GetSessionView(ctx, sess.ID, "d1")
	require.NoError(t, err)
	require.True(t, stale.IsInGracePeriod)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionAccept)
	require.NoError(t, err)
	f.settlePayment(t, ext.PaymentReference, payments.StatusSucceeded)
	res, err := f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, 600, res.Session.ExtendedSecondsTotal)

	// The old snapshot is evaluated at its own grace deadline.
	at := stale.Session.DurationEndsAt().Add(60 * time.Second)
	got := f.svc.settle(ctx, stale.Session, at)
	require.NotEqual(t, SessionEnded, got.State)
	require.Equal(t, 600, got.ExtendedSecondsTotal)
	require.Equal(t, 0, f.ledger.count())

	stored, err := f.repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, SessionActive, stored.State)

	// Same for a stale reader that would mark grace.
	active, err := f.repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	active.ExtendedSecondsTotal = 0
	active.State = SessionActive
	got = f.svc.settle(ctx, active, active.DurationEndsAt().Add(time.Second))
	require.Equal(t, SessionActive, got.State)
	require.Equal(t, 600, got.ExtendedSecondsTotal)
}

func TestLazyExpiry_ReadsSurviveFailedWriteBacks(t *testing.T) {
	f := newFixtureWithRepo(t, func(r *MemoryRepo) Repository { return failingWrites{r} })
	ctx := context.Background()
	f.seedHistory(t, "m-12", "d1", "d2")

	inv, err := f.svc.CreateInvitation(ctx, "d1", "m-12")
	require.NoError(t, err)

	f.advance(61 * time.Second)
	_, err = f.svc.RespondToInvitation(ctx, "d2", inv.ID, ActionAccept, "")
	require.ErrorIs(t, err, apperr.ErrExpired)

	poll, err := f.svc.PollForCaller(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, poll)
	require.Equal(t, InvitationExpired, poll.Invitation.Status)

	ring, err := f.svc.PollForCallee(ctx, "d2")
	require.NoError(t, err)
	require.Nil(t, ring)

	stored, err := f.repo.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvitationPending, stored.Status, "write-back was expected to fail")

	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)
	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)

	f.advance(61 * time.Second)
	v, err := f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Nil(t, v.Extension, "extension %s should read as expired", ext.ID)

	f.advance(900 * time.Second)
	v, err = f.svc.GetSessionView(ctx, sess.ID, "d2")
	require.NoError(t, err)
	require.Equal(t, SessionEnded, v.Session.State)
	require.Equal(t, 0, v.RemainingSeconds)
}

func TestExtension_FailedPaymentLosesToConcurrentExpiry(t *testing.T) {
	f := newFixtureWithRepo(t, func(r *MemoryRepo) Repository { return expiryRace{r} })
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "m-12", "d1", "d2")
	require.NoError(t, err)

	ext, err := f.svc.RequestExtension(ctx, sess.ID, "d1")
	require.NoError(t, err)
	ext, err = f.svc.RespondToExtension(ctx, ext.ID, "d2", ActionAccept)
	require.NoError(t, err)
	f.settlePayment(t, ext.PaymentReference, payments.StatusFailed)

	_, err = f.svc.ConfirmPayment(ctx, ext.ID, "d1", ext.PaymentReference)
	require.ErrorIs(t, err, apperr.ErrExpired)
	for _, e := range f.audit.Events() {
		require.NotEqual(t, audit.EventTypeExtensionPaymentFailed, e.Type)
	}
}
