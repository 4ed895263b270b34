package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"videodate-platform/pkg/utils"
)

// PostgresRepo implements Repository on the entitlement_* tables.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// errLostRace rolls back a Consume whose ceiling check failed.
var errLostRace = errors.New("entitlement ceiling reached concurrently")

func (r *PostgresRepo) Snapshot(ctx context.Context, userID, matchID, day string) (Snapshot, error) {
	const q = `
SELECT
  COALESCE((SELECT messages_sent FROM entitlement_daily WHERE user_id = $1 AND day = $3), 0),
  COALESCE((SELECT balance FROM message_credits WHERE user_id = $1), 0),
  COALESCE((SELECT first_encounter_remaining FROM match_entitlements WHERE user_id = $1 AND match_id = $2), 0),
  COALESCE((SELECT sent FROM match_message_daily WHERE user_id = $1 AND match_id = $2 AND day = $3), 0),
  (SELECT last_video_call_at FROM match_entitlements WHERE user_id = $1 AND match_id = $2)
`
	var (
		s    Snapshot
		last sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, userID, matchID, day).Scan(
		&s.DailySent,
		&s.Credits,
		&s.FirstEncounterRemaining,
		&s.MatchSentToday,
		&last,
	); err != nil {
		return Snapshot{}, fmt.Errorf("entitlement snapshot: %w", err)
	}
	if last.Valid {
		t := last.Time
		s.LastVideoCallAt = &t
	}
	return s, nil
}

func (r *PostgresRepo) Consume(ctx context.Context, req ConsumeRequest) (bool, error) {
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := consumeSource(ctx, tx, req); err != nil {
			return err
		}
		if req.MatchID == "" {
			return nil
		}
		return bumpMatchCounter(ctx, tx, req)
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume entitlement: %w", err)
	}
	return true, nil
}

func consumeSource(ctx context.Context, tx *sql.Tx, req ConsumeRequest) error {
	var (
		res sql.Result
		err error
	)
	switch req.Source {
	case SourceFirstEncounter:
		const q = `
UPDATE match_entitlements
SET first_encounter_remaining = first_encounter_remaining - 1
WHERE user_id = $1 AND match_id = $2 AND first_encounter_remaining > 0
`
		res, err = tx.ExecContext(ctx, q, req.UserID, req.MatchID)
	case SourceDaily:
		if req.DailyCap <= 0 {
			return errLostRace
		}
		// The first message of the day creates the row; later ones increment under the cap.
		const q = `
INSERT INTO entitlement_daily (user_id, day, messages_sent)
VALUES ($1, $2, 1)
ON CONFLICT (user_id, day)
DO UPDATE SET messages_sent = entitlement_daily.messages_sent + 1
WHERE entitlement_daily.messages_sent < $3
`
		res, err = tx.ExecContext(ctx, q, req.UserID, req.Day, req.DailyCap)
	case SourceCredits:
		const q = `
UPDATE message_credits
SET balance = balance - 1, updated_at = $2
WHERE user_id = $1 AND balance > 0
`
		res, err = tx.ExecContext(ctx, q, req.UserID, req.At)
	default:
		return fmt.Errorf("unknown entitlement source %q", req.Source)
	}
	return requireOneRow(res, err)
}

func bumpMatchCounter(ctx context.Context, tx *sql.Tx, req ConsumeRequest) error {
	const q = `
INSERT INTO match_message_daily (user_id, match_id, day, sent)
VALUES ($1, $2, $3, 1)
ON CONFLICT (user_id, match_id, day)
DO UPDATE SET sent = match_message_daily.sent + 1
WHERE $4 = 0 OR match_message_daily.sent < $4
`
	res, err := tx.ExecContext(ctx, q, req.UserID, req.MatchID, req.Day, req.PerMatchCap)
	return requireOneRow(res, err)
}

func requireOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errLostRace
	}
	return nil
}

func (r *PostgresRepo) RecordVideoCall(ctx context.Context, v VideoCall) error {
	const resetQ = `
INSERT INTO match_entitlements (user_id, match_id, first_encounter_remaining, last_video_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, match_id)
DO UPDATE SET first_encounter_remaining = EXCLUDED.first_encounter_remaining,
              last_video_call_at = EXCLUDED.last_video_call_at
`
	const partnerQ = `
INSERT INTO reward_partners (user_id, partner_id, month, first_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, partner_id, month) DO NOTHING
`
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, p := range v.Participants {
			if _, err := tx.ExecContext(ctx, resetQ, p.UserID, v.MatchID, p.FirstEncounter, v.At); err != nil {
				return fmt.Errorf("reset first-encounter: %w", err)
			}
			if _, err := tx.ExecContext(ctx, partnerQ, p.UserID, p.PartnerID, v.Month, v.At); err != nil {
				return fmt.Errorf("record reward partner: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) RewardPartners(ctx context.Context, userID, month string) (int, error) {
	const q = `SELECT COUNT(*) FROM reward_partners WHERE user_id = $1 AND month = $2`
	var n int
	if err := r.db.QueryRowContext(ctx, q, userID, month).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reward partners: %w", err)
	}
	return n, nil
}

func (r *PostgresRepo) GrantCredits(ctx context.Context, userID string, credits int, ref string, at time.Time) (bool, int, error) {
	var (
		granted bool
		balance int
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: the grant row is keyed by the payment reference.
		const grantQ = `
INSERT INTO credit_grants (ref, user_id, credits, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ref) DO NOTHING
`
		res, err := tx.ExecContext(ctx, grantQ, ref, userID, credits, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 1 {
			granted = true
			const balanceQ = `
INSERT INTO message_credits (user_id, balance, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET balance = message_credits.balance + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
RETURNING balance
`
			return tx.QueryRowContext(ctx, balanceQ, userID, credits, at).Scan(&balance)
		}

		const readQ = `SELECT COALESCE((SELECT balance FROM message_credits WHERE user_id = $1), 0)`
		return tx.QueryRowContext(ctx, readQ, userID).Scan(&balance)
	})
	if err != nil {
		return false, 0, fmt.Errorf("grant credits: %w", err)
	}
	return granted, balance, nil
}
