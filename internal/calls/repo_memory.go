package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"videodate-platform/internal/apperr"
)

// MemoryRepo implements Repository with the same uniqueness and compare-and-swap
// semantics as PostgresRepo, under one mutex.
type MemoryRepo struct {
	mu          sync.Mutex
	invitations map[string]Invitation
	sessions    map[string]Session
	extensions  map[string]Extension
	proposals   map[string]Proposal
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		invitations: map[string]Invitation{},
		sessions:    map[string]Session{},
		extensions:  map[string]Extension{},
		proposals:   map[string]Proposal{},
	}
}

func samePair(a Invitation, caller, callee string) bool {
	return (a.CallerID == caller && a.CalleeID == callee) || (a.CallerID == callee && a.CalleeID == caller)
}

func (r *MemoryRepo) InsertInvitation(ctx context.Context, inv Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invitations[inv.ID]; ok {
		return apperr.ErrConflict
	}
	for _, o := range r.invitations {
		if o.Status == InvitationPending && samePair(o, inv.CallerID, inv.CalleeID) {
			return apperr.ErrConflict
		}
	}
	r.invitations[inv.ID] = inv
	return nil
}

func (r *MemoryRepo) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok {
		return Invitation{}, apperr.NotFound("invitation not found")
	}
	return inv, nil
}

func (r *MemoryRepo) AcceptInvitation(ctx context.Context, invitationID string, sess Session, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[invitationID]
	if !ok || inv.Status != InvitationPending || isExpired(inv.ExpiresAt, at) {
		return false, nil
	}
	if _, dup := r.sessions[sess.ID]; dup {
		return false, apperr.ErrConflict
	}
	r.sessions[sess.ID] = sess

	inv.Status = InvitationAccepted
	inv.ResolvedAt = &at
	inv.SessionID = sess.ID
	inv.RoomURL = sess.RoomURL
	r.invitations[invitationID] = inv
	return true, nil
}

func (r *MemoryRepo) ResolveInvitation(ctx context.Context, id string, to InvitationStatus, resolvedAt time.Time, declineReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || inv.Status != InvitationPending {
		return false, nil
	}
	if to == InvitationDeclined && isExpired(inv.ExpiresAt, resolvedAt) {
		return false, nil
	}
	inv.Status = to
	inv.ResolvedAt = &resolvedAt
	inv.DeclineReason = declineReason
	r.invitations[id] = inv
	return true, nil
}

func (r *MemoryRepo) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, inv := range r.invitations {
		if inv.Status == InvitationPending && isExpired(inv.ExpiresAt, now) {
			at := inv.ExpiresAt
			inv.Status = InvitationExpired
			inv.ResolvedAt = &at
			r.invitations[id] = inv
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) pendingWhere(match func(Invitation) bool) []Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invitation
	for _, inv := range r.invitations {
		if inv.Status == InvitationPending && match(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) PendingByCaller(ctx context.Context, callerID string) ([]Invitation, error) {
	return r.pendingWhere(func(i Invitation) bool { return i.CallerID == callerID }), nil
}

func (r *MemoryRepo) PendingByCallee(ctx context.Context, calleeID string) ([]Invitation, error) {
	return r.pendingWhere(func(i Invitation) bool { return i.CalleeID == calleeID }), nil
}

func (r *MemoryRepo) LatestResolvedByCaller(ctx context.Context, callerID string, since time.Time) (Invitation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		best  Invitation
		found bool
	)
	for _, inv := range r.invitations {
		if inv.CallerID != callerID || inv.Status == InvitationPending || inv.ResolvedAt == nil {
			continue
		}
		if inv.ResolvedAt.Before(since) {
			continue
		}
		if !found || inv.ResolvedAt.After(*best.ResolvedAt) {
			best, found = inv, true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) InsertSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperr.ErrConflict
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, apperr.NotFound("session not found")
	}
	return s, nil
}

func (r *MemoryRepo) HasEndedSession(ctx context.Context, matchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.MatchID == matchID && s.State == SessionEnded {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.Has(userID) && !s.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) FirstSessionAt(ctx context.Context, userID string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		first time.Time
		found bool
	)
	for _, s := range r.sessions {
		if s.Has(userID) && (!found || s.StartedAt.Before(first)) {
			first, found = s.StartedAt, true
		}
	}
	return first, found, nil
}

func (r *MemoryRepo) MarkGrace(ctx context.Context, id string, extendedSeconds int, graceExpiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != SessionActive || s.ExtendedSecondsTotal != extendedSeconds {
		return false, nil
	}
	s.State = SessionGracePeriod
	s.GraceExpiresAt = &graceExpiresAt
	r.sessions[id] = s
	return true, nil
}

func (r *MemoryRepo) EndSession(ctx context.Context, id string, endedAt time.Time, endedBy string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false, apperr.NotFound("session not found")
	}
	if s.State == SessionEnded {
		return s, false, nil
	}
	s.State = SessionEnded
	s.EndedAt = &endedAt
	s.EndedBy = endedBy
	r.sessions[id] = s
	return s, true, nil
}

func (r *MemoryRepo) ExpireSession(ctx context.Context, id string, extendedSeconds int, endedAt time.Time) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false, apperr.NotFound("session not found")
	}
	if s.State == SessionEnded || s.ExtendedSecondsTotal != extendedSeconds {
		return s, false, nil
	}
	s.State = SessionEnded
	s.EndedAt = &endedAt
	s.EndedBy = ""
	r.sessions[id] = s
	return s, true, nil
}

func (r *MemoryRepo) InsertExtension(ctx context.Context, e Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extensions[e.ID]; ok {
		return apperr.ErrConflict
	}
	for _, o := range r.extensions {
		if o.SessionID == e.SessionID && !o.Status.Terminal() {
			return apperr.ErrConflict
		}
	}
	r.extensions[e.ID] = e
	return nil
}

func (r *MemoryRepo) GetExtension(ctx context.Context, id string) (Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.extensions[id]
	if !ok {
		return Extension{}, apperr.NotFound("extension not found")
	}
	return e, nil
}

func (r *MemoryRepo) OpenExtension(ctx context.Context, sessionID string) (Extension, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.extensions {
		if e.SessionID == sessionID && !e.Status.Terminal() {
			return e, true, nil
		}
	}
	return Extension{}, false, nil
}

func (r *MemoryRepo) TransitionExtension(ctx context.Context, id string, from, to ExtensionStatus, patch ExtensionPatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.extensions[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	if patch.PaymentReference != "" {
		e.PaymentReference = patch.PaymentReference
	}
	if patch.ExpiresAt != nil {
		e.ExpiresAt = *patch.ExpiresAt
	}
	e.UpdatedAt = patch.At
	r.extensions[id] = e
	return true, nil
}

func (r *MemoryRepo) CompleteExtension(ctx context.Context, id string, at time.Time) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.extensions[id]
	if !ok || e.Status != ExtensionAwaitingPayment {
		return Session{}, false, nil
	}
	s, ok := r.sessions[e.SessionID]
	if !ok {
		return Session{}, false, apperr.NotFound("session not found")
	}
	if s.State == SessionEnded {
		return s, false, ErrSessionEnded
	}

	s.ExtendedSecondsTotal += e.ExtensionSeconds
	s.State = SessionActive
	s.GraceExpiresAt = nil
	r.sessions[s.ID] = s

	e.Status = ExtensionCompleted
	e.UpdatedAt = at
	r.extensions[id] = e
	return s, true, nil
}

func (r *MemoryRepo) InsertProposal(ctx context.Context, p Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proposals[p.ID]; ok {
		return apperr.ErrConflict
	}
	for _, o := range r.proposals {
		if o.MatchID == p.MatchID && o.Status == ProposalProposed {
			return apperr.ErrConflict
		}
	}
	r.proposals[p.ID] = p
	return nil
}

func (r *MemoryRepo) GetProposal(ctx context.Context, id string) (Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return Proposal{}, apperr.NotFound("proposal not found")
	}
	return p, nil
}

func (r *MemoryRepo) TransitionProposal(ctx context.Context, id string, from, to ProposalStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	r.proposals[id] = p
	return true, nil
}

func (r *MemoryRepo) StartProposal(ctx context.Context, id string, sess Session, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok || p.Status != ProposalAccepted {
		return false, nil
	}
	if _, dup := r.sessions[sess.ID]; dup {
		return false, apperr.ErrConflict
	}
	r.sessions[sess.ID] = sess
	p.Status = ProposalStarted
	p.SessionID = sess.ID
	p.UpdatedAt = at
	r.proposals[id] = p
	return true, nil
}
