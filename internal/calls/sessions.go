package calls

import (
	"context"
	"fmt"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/video"

	"github.com/google/uuid"
)

// SessionView is what participants poll during a call.
type SessionView struct {
	Session               Session    `json:"session"`
	RemainingSeconds      int        `json:"remaining_seconds"`
	IsInGracePeriod       bool       `json:"is_in_grace_period"`
	GraceRemainingSeconds int        `json:"grace_remaining_seconds,omitempty"`
	Extension             *Extension `json:"extension,omitempty"`
}

// JoinInfo lets one participant enter the room of a session.
type JoinInfo struct {
	SessionID string `json:"session_id"`
	RoomURL   string `json:"room_url"`
	Token     string `json:"token"`
}

// baseSeconds is the call allowance of the less generous tier of the two.
func (s *Service) baseSeconds(ctx context.Context, callerID, calleeID string) (int, error) {
	a, err := s.dir.TierOf(ctx, callerID)
	if err != nil {
		return 0, err
	}
	b, err := s.dir.TierOf(ctx, calleeID)
	if err != nil {
		return 0, err
	}
	return min(s.catalog.For(a).CallMinutes, s.catalog.For(b).CallMinutes) * 60, nil
}

// newSession checks both tiers, creates the room and returns an unsaved active session.
func (s *Service) newSession(ctx context.Context, matchID, callerID, calleeID string, origin Origin, now time.Time) (Session, error) {
	if err := s.requireCalling(ctx, callerID, calleeID); err != nil {
		return Session{}, err
	}
	base, err := s.baseSeconds(ctx, callerID, calleeID)
	if err != nil {
		return Session{}, err
	}
	room, err := s.rooms.CreateRoom(ctx, video.CreateRoomRequest{
		// Rooms outlive the base allowance so extensions and grace need no provider call.
		MaxDuration: time.Duration(base)*time.Second + s.cfg.GracePeriod + time.Hour,
	})
	if err != nil {
		return Session{}, fmt.Errorf("create room: %w", err)
	}
	return Session{
		ID:                  uuid.NewString(),
		MatchID:             matchID,
		CallerID:            callerID,
		CalleeID:            calleeID,
		Origin:              origin,
		RoomName:            room.Name,
		RoomURL:             room.URL,
		StartedAt:           now,
		BaseDurationSeconds: base,
		State:               SessionActive,
	}, nil
}

// CreateSession starts an active session between the two members of a match.
func (s *Service) CreateSession(ctx context.Context, matchID, callerID, calleeID string) (Session, error) {
	m, err := s.matchFor(ctx, matchID, callerID)
	if err != nil {
		return Session{}, err
	}
	if m.Other(callerID) != calleeID {
		return Session{}, apperr.Invalid("callee is not the other member of the match")
	}
	sess, err := s.newSession(ctx, matchID, callerID, calleeID, OriginInstant, s.now())
	if err != nil {
		return Session{}, err
	}
	if err := s.repo.InsertSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// settle applies any time-driven transition due at now and returns the
// effective session. Write-backs are best-effort; the returned value is
// correct either way.
func (s *Service) settle(ctx context.Context, sess Session, now time.Time) Session {
	if sess.State == SessionEnded {
		return sess
	}
	ends := sess.DurationEndsAt()
	if now.Before(ends) {
		// A racing grace write-back may land after an extension completed.
		if sess.State == SessionGracePeriod {
			sess.State = SessionActive
			sess.GraceExpiresAt = nil
		}
		return sess
	}
	graceEnd := ends.Add(s.cfg.GracePeriod)
	if now.Before(graceEnd) {
		if sess.State == SessionActive {
			ok, err := s.repo.MarkGrace(ctx, sess.ID, sess.ExtendedSecondsTotal, graceEnd)
			if err != nil {
				warn(ctx, "mark grace failed", err, "session_id", sess.ID)
			} else if !ok {
				if cur, changed := s.reread(ctx, sess); changed {
					return s.settle(ctx, cur, now)
				}
			}
		}
		sess.State = SessionGracePeriod
		sess.GraceExpiresAt = &graceEnd
		return sess
	}

	ended, won, err := s.repo.ExpireSession(ctx, sess.ID, sess.ExtendedSecondsTotal, graceEnd)
	if err != nil {
		warn(ctx, "natural end write-back failed", err, "session_id", sess.ID)
		sess.State = SessionEnded
		sess.EndedAt = &graceEnd
		return sess
	}
	if won {
		s.onEnded(ctx, ended)
		return ended
	}
	if ended.State != SessionEnded && ended.ExtendedSecondsTotal != sess.ExtendedSecondsTotal {
		// An extension landed after sess was read.
		return s.settle(ctx, ended, now)
	}
	return ended
}

// reread reports the stored session when it was extended or ended since sess was read.
func (s *Service) reread(ctx context.Context, sess Session) (Session, bool) {
	cur, err := s.repo.GetSession(ctx, sess.ID)
	if err != nil {
		warn(ctx, "session reread failed", err, "session_id", sess.ID)
		return sess, false
	}
	return cur, cur.State == SessionEnded || cur.ExtendedSecondsTotal != sess.ExtendedSecondsTotal
}

// onEnded runs once, for the writer that won the end transition.
func (s *Service) onEnded(ctx context.Context, sess Session) {
	at := sess.StartedAt
	if sess.EndedAt != nil {
		at = *sess.EndedAt
	}
	if s.ledger != nil {
		if err := s.ledger.OnVideoCallEnded(ctx, sess.MatchID, sess.CallerID, sess.CalleeID, at); err != nil {
			logError(ctx, "ledger call-ended hook failed", err, "session_id", sess.ID, "match_id", sess.MatchID)
		}
	}
	if open, ok, err := s.repo.OpenExtension(ctx, sess.ID); err == nil && ok {
		if _, err := s.repo.TransitionExtension(ctx, open.ID, open.Status, ExtensionExpired, ExtensionPatch{At: at}); err != nil {
			warn(ctx, "expire extension on end failed", err, "extension_id", open.ID)
		}
	}
	s.audit.SessionEnded(ctx, sess.EndedBy, sess.ID, sess.EndedBy == "")
}

func (s *Service) participantSession(ctx context.Context, sessionID, userID string) (Session, error) {
	if sessionID == "" {
		return Session{}, apperr.Invalid("session id required")
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.Has(userID) {
		return Session{}, apperr.Unauthorized("not a participant of this session")
	}
	return sess, nil
}

func (s *Service) view(ctx context.Context, sess Session, now time.Time) SessionView {
	v := SessionView{Session: sess, RemainingSeconds: sess.RemainingSeconds(now)}
	if sess.State == SessionEnded {
		v.RemainingSeconds = 0
		return v
	}
	if sess.State == SessionGracePeriod && sess.GraceExpiresAt != nil && now.Before(*sess.GraceExpiresAt) {
		v.IsInGracePeriod = true
		v.GraceRemainingSeconds = int(sess.GraceExpiresAt.Sub(now) / time.Second)
	}
	if e, ok := s.liveExtension(ctx, sess.ID, now); ok {
		v.Extension = &e
	}
	return v
}

// GetSessionView returns the session with its derived remaining time and any open extension.
func (s *Service) GetSessionView(ctx context.Context, sessionID, requesterID string) (SessionView, error) {
	sess, err := s.participantSession(ctx, sessionID, requesterID)
	if err != nil {
		return SessionView{}, err
	}
	now := s.now()
	return s.view(ctx, s.settle(ctx, sess, now), now), nil
}

// TransitionState is the explicit state change a participant can request.
// Ending is the only transition a client normally drives; grace_period is
// accepted only when time has actually run out.
func (s *Service) TransitionState(ctx context.Context, sessionID, requesterID string, to SessionState) (SessionView, error) {
	sess, err := s.participantSession(ctx, sessionID, requesterID)
	if err != nil {
		return SessionView{}, err
	}
	now := s.now()
	sess = s.settle(ctx, sess, now)
	if sess.State == SessionEnded {
		return SessionView{}, ErrSessionEnded
	}

	switch to {
	case SessionEnded:
		ended, won, err := s.repo.EndSession(ctx, sess.ID, now, requesterID)
		if err != nil {
			return SessionView{}, err
		}
		if !won {
			return SessionView{}, ErrSessionEnded
		}
		s.onEnded(ctx, ended)
		return s.view(ctx, ended, now), nil
	case SessionGracePeriod:
		if sess.State != SessionGracePeriod {
			return SessionView{}, apperr.InvalidTransition(ReasonDurationRemaining, "session still has time remaining")
		}
		return s.view(ctx, sess, now), nil
	case SessionActive:
		return SessionView{}, apperr.InvalidTransition("", "sessions become active only when created or extended")
	default:
		return SessionView{}, apperr.Invalid(fmt.Sprintf("unknown session state %q", to))
	}
}

// JoinSession returns the room and a participant-scoped token for a live session.
func (s *Service) JoinSession(ctx context.Context, sessionID, userID string) (JoinInfo, error) {
	sess, err := s.participantSession(ctx, sessionID, userID)
	if err != nil {
		return JoinInfo{}, err
	}
	if s.settle(ctx, sess, s.now()).State == SessionEnded {
		return JoinInfo{}, ErrSessionEnded
	}
	return s.joinInfo(ctx, sess, userID)
}

func (s *Service) joinInfo(ctx context.Context, sess Session, userID string) (JoinInfo, error) {
	tok, err := s.rooms.IssueJoinToken(ctx, sess.RoomName, userID)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("issue join token: %w", err)
	}
	return JoinInfo{SessionID: sess.ID, RoomURL: sess.RoomURL, Token: tok}, nil
}
