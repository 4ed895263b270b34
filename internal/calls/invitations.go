package calls

import (
	"context"
	"errors"
	"sort"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/chat"
	"videodate-platform/internal/membership"

	"github.com/google/uuid"
)

// CalleeInvite is what the callee's poll shows while an invitation rings.
type CalleeInvite struct {
	Invitation       Invitation `json:"invitation"`
	RemainingSeconds int        `json:"remaining_seconds"`
}

// CallerPoll is the caller's view: the ringing invitation, or the latest
// resolved one within the visibility window.
type CallerPoll struct {
	Invitation       Invitation `json:"invitation"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
}

// InvitationResult is returned by RespondToInvitation. Session and Join are set on accept.
type InvitationResult struct {
	Invitation Invitation `json:"invitation"`
	Session    *Session   `json:"session,omitempty"`
	Join       *JoinInfo  `json:"join,omitempty"`
}

// CreateInvitation rings the other member of a match.
func (s *Service) CreateInvitation(ctx context.Context, callerID, matchID string) (Invitation, error) {
	m, err := s.matchFor(ctx, matchID, callerID)
	if err != nil {
		return Invitation{}, err
	}
	calleeID := m.Other(callerID)
	now := s.now()

	if err := s.requireCalling(ctx, callerID, calleeID); err != nil {
		return Invitation{}, err
	}
	// Instant calls unlock only after the pair has completed a call together.
	had, err := s.repo.HasEndedSession(ctx, matchID)
	if err != nil {
		return Invitation{}, err
	}
	if !had {
		return Invitation{}, apperr.InvalidTransition(ReasonNoCallHistory, "instant calls require a previous call with this match")
	}

	// A caller who is ringing or being rung cannot start another call.
	outgoing, err := s.repo.PendingByCaller(ctx, callerID)
	if err != nil {
		return Invitation{}, err
	}
	incoming, err := s.repo.PendingByCallee(ctx, callerID)
	if err != nil {
		return Invitation{}, err
	}
	for _, inv := range append(outgoing, incoming...) {
		if !isExpired(inv.ExpiresAt, now) {
			return Invitation{}, apperr.Conflict(ReasonInvitationInFlight, "an invitation is already ringing")
		}
		s.expireInvitation(ctx, inv)
	}

	if err := s.checkDailyCalls(ctx, callerID, now); err != nil {
		return Invitation{}, err
	}
	if err := s.checkTrial(ctx, callerID, now); err != nil {
		return Invitation{}, err
	}
	if err := s.checkRing(ctx, callerID); err != nil {
		return Invitation{}, err
	}

	inv := Invitation{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Status:    InvitationPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.InviteTTL),
	}
	if err := s.repo.InsertInvitation(ctx, inv); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Invitation{}, apperr.Conflict(ReasonInvitationInFlight, "an invitation between this pair is already ringing")
		}
		return Invitation{}, err
	}
	return inv, nil
}

func (s *Service) checkDailyCalls(ctx context.Context, userID string, now time.Time) error {
	tier, err := s.dir.TierOf(ctx, userID)
	if err != nil {
		return err
	}
	limit := s.catalog.For(tier).DailyVideoCallCap
	day := startOfDay(now, s.loc)
	used, err := s.repo.CountSessionsSince(ctx, userID, day.UTC())
	if err != nil {
		return err
	}
	if used < limit {
		return nil
	}
	resets := day.AddDate(0, 0, 1).UTC()
	d := apperr.QuotaDetail{Allowance: ReasonDailyVideoCalls, Limit: limit, Used: used, ResetsAt: &resets}
	if up, ok := s.catalog.UpgradeFor(tier, func(l membership.Limits) bool { return l.DailyVideoCallCap > limit }); ok {
		d.UpgradeTier = string(up)
	}
	return apperr.Quota(ReasonDailyVideoCalls, d)
}

// checkTrial bounds tiers with a calling trial to TrialDays after the user's first call.
func (s *Service) checkTrial(ctx context.Context, userID string, now time.Time) error {
	tier, err := s.dir.TierOf(ctx, userID)
	if err != nil {
		return err
	}
	days := s.catalog.For(tier).TrialDays
	if days <= 0 {
		return nil
	}
	first, ok, err := s.repo.FirstSessionAt(ctx, userID)
	if err != nil || !ok {
		return err
	}
	if now.Before(first.AddDate(0, 0, days)) {
		return nil
	}
	d := apperr.TierDetail{CurrentTier: string(tier)}
	if up, ok := s.catalog.UpgradeFor(tier, func(l membership.Limits) bool { return l.CanCall && l.TrialDays == 0 }); ok {
		d.RequiredTier = string(up)
	}
	return apperr.Tier(ReasonTrialExpired, d)
}

// checkRing fails open: a limiter outage must not block calling.
func (s *Service) checkRing(ctx context.Context, callerID string) error {
	if s.ring == nil {
		return nil
	}
	ok, err := s.ring.Allow(ctx, callerID)
	if err != nil {
		warn(ctx, "ring limiter unavailable", err, "caller_id", callerID)
		return nil
	}
	if ok {
		return nil
	}
	return apperr.Quota(ReasonRingRate, apperr.QuotaDetail{
		Allowance: ReasonRingRate,
		Limit:     s.ring.Limit(),
		Used:      s.ring.Limit(),
	})
}

// RespondToInvitation is the callee accepting or declining a ringing invitation.
func (s *Service) RespondToInvitation(ctx context.Context, calleeID, invitationID string, action Action, declineReason string) (InvitationResult, error) {
	if action != ActionAccept && action != ActionDecline {
		return InvitationResult{}, apperr.Invalid("action must be accept or decline")
	}
	inv, err := s.repo.GetInvitation(ctx, invitationID)
	if err != nil {
		return InvitationResult{}, err
	}
	if inv.CalleeID != calleeID {
		return InvitationResult{}, apperr.Unauthorized("only the callee can respond")
	}
	now := s.now()
	if err := s.checkRespondable(ctx, inv, now); err != nil {
		return InvitationResult{}, err
	}

	if action == ActionDecline {
		ok, err := s.repo.ResolveInvitation(ctx, inv.ID, InvitationDeclined, now, declineReason)
		if err != nil {
			return InvitationResult{}, err
		}
		if !ok {
			return InvitationResult{}, s.lostInvitationRace(ctx, inv.ID, now)
		}
		s.postDeclined(ctx, inv, declineReason)
		inv.Status = InvitationDeclined
		inv.ResolvedAt = &now
		inv.DeclineReason = declineReason
		return InvitationResult{Invitation: inv}, nil
	}

	// The callee's own daily cap applies when they pick up.
	if err := s.checkDailyCalls(ctx, inv.CalleeID, now); err != nil {
		return InvitationResult{}, err
	}
	sess, err := s.newSession(ctx, inv.MatchID, inv.CallerID, inv.CalleeID, OriginInstant, now)
	if err != nil {
		return InvitationResult{}, err
	}
	ok, err := s.repo.AcceptInvitation(ctx, inv.ID, sess, now)
	if err != nil {
		return InvitationResult{}, err
	}
	if !ok {
		return InvitationResult{}, s.lostInvitationRace(ctx, inv.ID, now)
	}
	join, err := s.joinInfo(ctx, sess, calleeID)
	if err != nil {
		return InvitationResult{}, err
	}
	inv.Status = InvitationAccepted
	inv.ResolvedAt = &now
	inv.SessionID = sess.ID
	inv.RoomURL = sess.RoomURL
	return InvitationResult{Invitation: inv, Session: &sess, Join: &join}, nil
}

func (s *Service) checkRespondable(ctx context.Context, inv Invitation, now time.Time) error {
	if inv.Status == InvitationExpired {
		return apperr.Expired("invitation expired")
	}
	if inv.Status != InvitationPending {
		return apperr.InvalidTransition(ReasonAlreadyResponded, "invitation is "+string(inv.Status))
	}
	if isExpired(inv.ExpiresAt, now) {
		s.expireInvitation(ctx, inv)
		return apperr.Expired("invitation expired")
	}
	return nil
}

// lostInvitationRace explains a failed compare-and-swap by re-reading the row.
func (s *Service) lostInvitationRace(ctx context.Context, id string, now time.Time) error {
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == InvitationPending && isExpired(inv.ExpiresAt, now) {
		s.expireInvitation(ctx, inv)
		return apperr.Expired("invitation expired")
	}
	if inv.Status == InvitationExpired {
		return apperr.Expired("invitation expired")
	}
	return apperr.InvalidTransition(ReasonAlreadyResponded, "invitation is "+string(inv.Status))
}

func (s *Service) expireInvitation(ctx context.Context, inv Invitation) {
	if _, err := s.repo.ResolveInvitation(ctx, inv.ID, InvitationExpired, inv.ExpiresAt, ""); err != nil {
		warn(ctx, "invitation expiry write-back failed", err, "invitation_id", inv.ID)
	}
}

func (s *Service) postDeclined(ctx context.Context, inv Invitation, reason string) {
	if s.notices == nil {
		return
	}
	body := "Video call declined"
	if reason != "" {
		body += ": " + reason
	}
	if err := s.notices.PostSystemNotice(ctx, inv.MatchID, chat.KindCallDeclined, body); err != nil {
		warn(ctx, "decline notice failed", err, "invitation_id", inv.ID, "match_id", inv.MatchID)
	}
}

func (s *Service) sweep(ctx context.Context, now time.Time) {
	if _, err := s.repo.ExpireInvitations(ctx, now); err != nil {
		warn(ctx, "invitation sweep failed", err)
	}
}

// asExpired is the logical view of a pending invitation past its deadline.
func asExpired(inv Invitation) Invitation {
	at := inv.ExpiresAt
	inv.Status = InvitationExpired
	inv.ResolvedAt = &at
	return inv
}

// PollForCallee returns the ringing invitation for calleeID, if any.
func (s *Service) PollForCallee(ctx context.Context, calleeID string) (*CalleeInvite, error) {
	now := s.now()
	s.sweep(ctx, now)
	pending, err := s.repo.PendingByCallee(ctx, calleeID)
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.After(pending[j].CreatedAt) })
	for _, inv := range pending {
		if isExpired(inv.ExpiresAt, now) {
			continue
		}
		return &CalleeInvite{Invitation: inv, RemainingSeconds: remaining(inv.ExpiresAt, now)}, nil
	}
	return nil, nil
}

// PollForCaller returns the caller's ringing invitation, or the latest one that
// left pending within the visibility window.
func (s *Service) PollForCaller(ctx context.Context, callerID string) (*CallerPoll, error) {
	now := s.now()
	s.sweep(ctx, now)
	pending, err := s.repo.PendingByCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	since := now.Add(-s.cfg.CallerVisibility)

	var latest *Invitation
	for _, inv := range pending {
		if !isExpired(inv.ExpiresAt, now) {
			return &CallerPoll{Invitation: inv, RemainingSeconds: remaining(inv.ExpiresAt, now)}, nil
		}
		// The sweep failed; report the logical state anyway.
		if v := asExpired(inv); !v.ResolvedAt.Before(since) && (latest == nil || v.ResolvedAt.After(*latest.ResolvedAt)) {
			latest = &v
		}
	}

	resolved, ok, err := s.repo.LatestResolvedByCaller(ctx, callerID, since)
	if err != nil {
		return nil, err
	}
	if ok && resolved.ResolvedAt != nil && (latest == nil || resolved.ResolvedAt.After(*latest.ResolvedAt)) {
		latest = &resolved
	}
	if latest == nil {
		return nil, nil
	}
	return &CallerPoll{Invitation: *latest}, nil
}

func remaining(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
