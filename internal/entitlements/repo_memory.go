package entitlements

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRepo mirrors PostgresRepo's conditional-update contract under one mutex.
type MemoryRepo struct {
	mu sync.Mutex

	daily      map[string]int // user|day
	credits    map[string]int // user
	first      map[string]int // user|match
	lastCall   map[string]time.Time
	matchDaily map[string]int // user|match|day
	grants     map[string]bool
	partners   map[string]map[string]bool // user|month -> partner
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		daily:      map[string]int{},
		credits:    map[string]int{},
		first:      map[string]int{},
		lastCall:   map[string]time.Time{},
		matchDaily: map[string]int{},
		grants:     map[string]bool{},
		partners:   map[string]map[string]bool{},
	}
}

func k(parts ...string) string { return strings.Join(parts, "|") }

func (r *MemoryRepo) Snapshot(ctx context.Context, userID, matchID, day string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		DailySent:               r.daily[k(userID, day)],
		Credits:                 r.credits[userID],
		FirstEncounterRemaining: r.first[k(userID, matchID)],
		MatchSentToday:          r.matchDaily[k(userID, matchID, day)],
	}
	if t, ok := r.lastCall[k(userID, matchID)]; ok {
		s.LastVideoCallAt = &t
	}
	return s, nil
}

func (r *MemoryRepo) Consume(ctx context.Context, req ConsumeRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mk := k(req.UserID, req.MatchID, req.Day)
	if req.MatchID != "" && req.PerMatchCap > 0 && r.matchDaily[mk] >= req.PerMatchCap {
		return false, nil
	}

	switch req.Source {
	case SourceFirstEncounter:
		fk := k(req.UserID, req.MatchID)
		if r.first[fk] <= 0 {
			return false, nil
		}
		r.first[fk]--
	case SourceDaily:
		dk := k(req.UserID, req.Day)
		if r.daily[dk] >= req.DailyCap {
			return false, nil
		}
		r.daily[dk]++
	case SourceCredits:
		if r.credits[req.UserID] <= 0 {
			return false, nil
		}
		r.credits[req.UserID]--
	default:
		return false, fmt.Errorf("unknown entitlement source %q", req.Source)
	}

	if req.MatchID != "" {
		r.matchDaily[mk]++
	}
	return true, nil
}

func (r *MemoryRepo) RecordVideoCall(ctx context.Context, v VideoCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range v.Participants {
		r.first[k(p.UserID, v.MatchID)] = p.FirstEncounter
		r.lastCall[k(p.UserID, v.MatchID)] = v.At

		pk := k(p.UserID, v.Month)
		if r.partners[pk] == nil {
			r.partners[pk] = map[string]bool{}
		}
		r.partners[pk][p.PartnerID] = true
	}
	return nil
}

func (r *MemoryRepo) RewardPartners(ctx context.Context, userID, month string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partners[k(userID, month)]), nil
}

func (r *MemoryRepo) GrantCredits(ctx context.Context, userID string, credits int, ref string, at time.Time) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[ref] {
		return false, r.credits[userID], nil
	}
	r.grants[ref] = true
	r.credits[userID] += credits
	return true, r.credits[userID], nil
}
