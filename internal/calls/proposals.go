package calls

import (
	"context"
	"errors"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/membership"

	"github.com/google/uuid"
)

// StartResult is returned when a scheduled call begins.
type StartResult struct {
	Proposal Proposal `json:"proposal"`
	Session  Session  `json:"session"`
	Join     JoinInfo `json:"join"`
}

// ProposeCall schedules a call with the other member of a match.
func (s *Service) ProposeCall(ctx context.Context, proposerID, matchID string, scheduledAt time.Time) (Proposal, error) {
	m, err := s.matchFor(ctx, matchID, proposerID)
	if err != nil {
		return Proposal{}, err
	}
	tier, err := s.dir.TierOf(ctx, proposerID)
	if err != nil {
		return Proposal{}, err
	}
	if !s.catalog.For(tier).CanSchedule {
		d := apperr.TierDetail{CurrentTier: string(tier)}
		if up, ok := s.catalog.UpgradeFor(tier, func(l membership.Limits) bool { return l.CanSchedule }); ok {
			d.RequiredTier = string(up)
		}
		return Proposal{}, apperr.Tier(ReasonTierUnavailable, d)
	}
	now := s.now()
	if !scheduledAt.After(now) {
		return Proposal{}, apperr.Invalid("scheduled_at must be in the future")
	}

	p := Proposal{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		ProposerID:  proposerID,
		ResponderID: m.Other(proposerID),
		ScheduledAt: scheduledAt.UTC(),
		Status:      ProposalProposed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertProposal(ctx, p); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Proposal{}, apperr.Conflict(ReasonProposalInFlight, "a proposal for this match is awaiting an answer")
		}
		return Proposal{}, err
	}
	return p, nil
}

// proposalLapsed reports whether an open proposal can no longer be started.
func (s *Service) proposalLapsed(p Proposal, now time.Time) bool {
	if p.Status != ProposalProposed && p.Status != ProposalAccepted {
		return false
	}
	return isExpired(p.ScheduledAt.Add(s.cfg.ProposalJoinWindow), now)
}

func (s *Service) expireProposal(ctx context.Context, p Proposal, now time.Time) {
	if _, err := s.repo.TransitionProposal(ctx, p.ID, p.Status, ProposalExpired, now); err != nil {
		warn(ctx, "proposal expiry write-back failed", err, "proposal_id", p.ID)
	}
}

// GetProposal returns a proposal to either member of its match.
func (s *Service) GetProposal(ctx context.Context, proposalID, userID string) (Proposal, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if p.ProposerID != userID && p.ResponderID != userID {
		return Proposal{}, apperr.Unauthorized("not a participant of this proposal")
	}
	if now := s.now(); s.proposalLapsed(p, now) {
		s.expireProposal(ctx, p, now)
		p.Status = ProposalExpired
	}
	return p, nil
}

// RespondToProposal is the responder accepting or declining the proposed time.
func (s *Service) RespondToProposal(ctx context.Context, responderID, proposalID string, action Action) (Proposal, error) {
	var to ProposalStatus
	switch action {
	case ActionAccept:
		to = ProposalAccepted
	case ActionDecline:
		to = ProposalDeclined
	default:
		return Proposal{}, apperr.Invalid("action must be accept or decline")
	}
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if p.ResponderID != responderID {
		return Proposal{}, apperr.Unauthorized("only the invited member can respond")
	}
	if p.Status != ProposalProposed {
		return Proposal{}, apperr.InvalidTransition(ReasonAlreadyResponded, "proposal is "+string(p.Status))
	}
	now := s.now()
	if s.proposalLapsed(p, now) {
		s.expireProposal(ctx, p, now)
		return Proposal{}, apperr.Expired("proposal expired")
	}
	ok, err := s.repo.TransitionProposal(ctx, p.ID, ProposalProposed, to, now)
	if err != nil {
		return Proposal{}, err
	}
	if !ok {
		return Proposal{}, apperr.InvalidTransition(ReasonAlreadyResponded, "proposal was answered concurrently")
	}
	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

// StartScheduledCall opens the session of an accepted proposal inside its join
// window. The second participant to start gets the session the first created.
func (s *Service) StartScheduledCall(ctx context.Context, userID, proposalID string) (StartResult, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return StartResult{}, err
	}
	if p.ProposerID != userID && p.ResponderID != userID {
		return StartResult{}, apperr.Unauthorized("not a participant of this proposal")
	}
	if p.Status == ProposalStarted {
		return s.joinStarted(ctx, p, userID)
	}
	if p.Status != ProposalAccepted {
		return StartResult{}, apperr.InvalidTransition(ReasonProposalNotAccepted, "proposal is "+string(p.Status))
	}
	now := s.now()
	if s.proposalLapsed(p, now) {
		s.expireProposal(ctx, p, now)
		return StartResult{}, apperr.Expired("proposal join window closed")
	}
	if now.Before(p.ScheduledAt.Add(-s.cfg.ProposalJoinWindow)) {
		return StartResult{}, apperr.InvalidTransition(ReasonOutsideJoinWindow, "too early to start this call")
	}

	sess, err := s.newSession(ctx, p.MatchID, p.ProposerID, p.ResponderID, OriginScheduled, now)
	if err != nil {
		return StartResult{}, err
	}
	ok, err := s.repo.StartProposal(ctx, p.ID, sess, now)
	if err != nil {
		return StartResult{}, err
	}
	if !ok {
		cur, err := s.repo.GetProposal(ctx, p.ID)
		if err != nil {
			return StartResult{}, err
		}
		if cur.Status == ProposalStarted {
			return s.joinStarted(ctx, cur, userID)
		}
		return StartResult{}, apperr.InvalidTransition(ReasonProposalNotAccepted, "proposal is "+string(cur.Status))
	}
	join, err := s.joinInfo(ctx, sess, userID)
	if err != nil {
		return StartResult{}, err
	}
	p.Status = ProposalStarted
	p.SessionID = sess.ID
	p.UpdatedAt = now
	return StartResult{Proposal: p, Session: sess, Join: join}, nil
}

func (s *Service) joinStarted(ctx context.Context, p Proposal, userID string) (StartResult, error) {
	sess, err := s.repo.GetSession(ctx, p.SessionID)
	if err != nil {
		return StartResult{}, err
	}
	sess = s.settle(ctx, sess, s.now())
	if sess.State == SessionEnded {
		return StartResult{}, ErrSessionEnded
	}
	join, err := s.joinInfo(ctx, sess, userID)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Proposal: p, Session: sess, Join: join}, nil
}
