package entitlements

import (
	"context"
	"time"
)

// Repository is the ledger's storage boundary. Every mutation is a single
// conditional statement (or one transaction of them); there is no read-then-write.
type Repository interface {
	Snapshot(ctx context.Context, userID, matchID, day string) (Snapshot, error)

	// Consume decrements req.Source by one and increments the per-match counter.
	// It reports false, changing nothing, when a ceiling no longer holds.
	Consume(ctx context.Context, req ConsumeRequest) (bool, error)

	// RecordVideoCall resets first-encounter allowances and records reward partners.
	RecordVideoCall(ctx context.Context, v VideoCall) error

	RewardPartners(ctx context.Context, userID, month string) (int, error)

	// GrantCredits adds credits once per ref. It reports false when ref was already granted.
	GrantCredits(ctx context.Context, userID string, credits int, ref string, at time.Time) (bool, int, error)
}
