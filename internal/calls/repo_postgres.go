package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/pkg/utils"
)

// PostgresRepo implements Repository. The partial unique indexes on call_invitations,
// call_extensions and call_proposals are the concurrency gates; status changes are
// conditional UPDATEs on the current status.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func rowsAffected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	if utils.IsUniqueViolation(err) {
		return apperr.ErrConflict
	}
	if utils.IsForeignKeyViolation(err) {
		return apperr.NotFound("referenced row not found")
	}
	return err
}

// --- invitations ---

const invitationCols = `id, match_id, caller_id, callee_id, status, created_at, expires_at, resolved_at, session_id, room_url, decline_reason`

func scanInvitation(row rowScanner) (Invitation, error) {
	var (
		inv                      Invitation
		resolved                 sql.NullTime
		sessionID, room, decline sql.NullString
	)
	if err := row.Scan(
		&inv.ID,
		&inv.MatchID,
		&inv.CallerID,
		&inv.CalleeID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&resolved,
		&sessionID,
		&room,
		&decline,
	); err != nil {
		return Invitation{}, err
	}
	inv.ResolvedAt = timePtr(resolved)
	inv.SessionID = sessionID.String
	inv.RoomURL = room.String
	inv.DeclineReason = decline.String
	return inv, nil
}

func (r *PostgresRepo) InsertInvitation(ctx context.Context, inv Invitation) error {
	const q = `
INSERT INTO call_invitations (id, match_id, caller_id, callee_id, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q, inv.ID, inv.MatchID, inv.CallerID, inv.CalleeID, inv.Status, inv.CreatedAt, inv.ExpiresAt)
	return mapInsertErr(err)
}

func (r *PostgresRepo) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	q := `SELECT ` + invitationCols + ` FROM call_invitations WHERE id = $1`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, apperr.NotFound("invitation not found")
	}
	return inv, err
}

func (r *PostgresRepo) AcceptInvitation(ctx context.Context, invitationID string, sess Session, at time.Time) (bool, error) {
	var accepted bool
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertSession(ctx, tx, sess); err != nil {
			return err
		}
		const q = `
UPDATE call_invitations
SET status = 'accepted', resolved_at = $2, session_id = $3, room_url = $4
WHERE id = $1 AND status = 'pending' AND expires_at >= $2
`
		ok, err := rowsAffected(tx.ExecContext(ctx, q, invitationID, at, sess.ID, sess.RoomURL))
		if err != nil {
			return err
		}
		if !ok {
			return errNotApplied
		}
		accepted = true
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("accept invitation: %w", mapInsertErr(err))
	}
	return accepted, nil
}

// errNotApplied rolls back a transaction whose compare-and-swap lost.
var errNotApplied = errors.New("conditional update not applied")

func (r *PostgresRepo) ResolveInvitation(ctx context.Context, id string, to InvitationStatus, resolvedAt time.Time, declineReason string) (bool, error) {
	const q = `
UPDATE call_invitations
SET status = $2, resolved_at = $3, decline_reason = $4
WHERE id = $1 AND status = 'pending' AND (NOT $5 OR expires_at >= $3)
`
	// A decline only counts while the invitation is still live.
	live := to == InvitationDeclined
	return rowsAffected(r.db.ExecContext(ctx, q, id, to, resolvedAt, nullString(declineReason), live))
}

func (r *PostgresRepo) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE call_invitations
SET status = 'expired', resolved_at = expires_at
WHERE status = 'pending' AND expires_at < $1
`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) listInvitations(ctx context.Context, q string, args ...any) ([]Invitation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) PendingByCaller(ctx context.Context, callerID string) ([]Invitation, error) {
	q := `SELECT ` + invitationCols + ` FROM call_invitations WHERE caller_id = $1 AND status = 'pending' ORDER BY created_at DESC`
	return r.listInvitations(ctx, q, callerID)
}

func (r *PostgresRepo) PendingByCallee(ctx context.Context, calleeID string) ([]Invitation, error) {
	q := `SELECT ` + invitationCols + ` FROM call_invitations WHERE callee_id = $1 AND status = 'pending' ORDER BY created_at DESC`
	return r.listInvitations(ctx, q, calleeID)
}

func (r *PostgresRepo) LatestResolvedByCaller(ctx context.Context, callerID string, since time.Time) (Invitation, bool, error) {
	q := `SELECT ` + invitationCols + `
FROM call_invitations
WHERE caller_id = $1 AND status <> 'pending' AND resolved_at >= $2
ORDER BY resolved_at DESC
LIMIT 1`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, q, callerID, since))
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, false, nil
	}
	if err != nil {
		return Invitation{}, false, err
	}
	return inv, true, nil
}

// --- sessions ---

const sessionCols = `id, match_id, caller_id, callee_id, origin, room_name, room_url, started_at,
  base_duration_seconds, extended_seconds_total, state, grace_expires_at, ended_at, ended_by`

func scanSession(row rowScanner) (Session, error) {
	var (
		s            Session
		grace, ended sql.NullTime
		endedBy      sql.NullString
	)
	if err := row.Scan(
		&s.ID,
		&s.MatchID,
		&s.CallerID,
		&s.CalleeID,
		&s.Origin,
		&s.RoomName,
		&s.RoomURL,
		&s.StartedAt,
		&s.BaseDurationSeconds,
		&s.ExtendedSecondsTotal,
		&s.State,
		&grace,
		&ended,
		&endedBy,
	); err != nil {
		return Session{}, err
	}
	s.GraceExpiresAt = timePtr(grace)
	s.EndedAt = timePtr(ended)
	s.EndedBy = endedBy.String
	return s, nil
}

func insertSession(ctx context.Context, q utils.Querier, s Session) error {
	const stmt = `
INSERT INTO video_sessions (
  id, match_id, caller_id, callee_id, origin, room_name, room_url, started_at,
  base_duration_seconds, extended_seconds_total, state
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := q.ExecContext(ctx, stmt,
		s.ID,
		s.MatchID,
		s.CallerID,
		s.CalleeID,
		s.Origin,
		s.RoomName,
		s.RoomURL,
		s.StartedAt,
		s.BaseDurationSeconds,
		s.ExtendedSecondsTotal,
		s.State,
	)
	return err
}

func (r *PostgresRepo) InsertSession(ctx context.Context, s Session) error {
	return mapInsertErr(insertSession(ctx, r.db, s))
}

func (r *PostgresRepo) GetSession(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionCols + ` FROM video_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, apperr.NotFound("session not found")
	}
	return s, err
}

func (r *PostgresRepo) HasEndedSession(ctx context.Context, matchID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM video_sessions WHERE match_id = $1 AND state = 'ended')`
	var ok bool
	err := r.db.QueryRowContext(ctx, q, matchID).Scan(&ok)
	return ok, err
}

func (r *PostgresRepo) CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*) FROM video_sessions
WHERE (caller_id = $1 OR callee_id = $1) AND started_at >= $2
`
	var n int
	err := r.db.QueryRowContext(ctx, q, userID, since).Scan(&n)
	return n, err
}

func (r *PostgresRepo) FirstSessionAt(ctx context.Context, userID string) (time.Time, bool, error) {
	const q = `SELECT MIN(started_at) FROM video_sessions WHERE caller_id = $1 OR callee_id = $1`
	var t sql.NullTime
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&t); err != nil {
		return time.Time{}, false, err
	}
	return t.Time, t.Valid, nil
}

func (r *PostgresRepo) MarkGrace(ctx context.Context, id string, extendedSeconds int, graceExpiresAt time.Time) (bool, error) {
	const q = `
UPDATE video_sessions
SET state = 'grace_period', grace_expires_at = $3
WHERE id = $1 AND state = 'active' AND extended_seconds_total = $2
`
	return rowsAffected(r.db.ExecContext(ctx, q, id, extendedSeconds, graceExpiresAt))
}

func (r *PostgresRepo) EndSession(ctx context.Context, id string, endedAt time.Time, endedBy string) (Session, bool, error) {
	q := `
UPDATE video_sessions
SET state = 'ended', ended_at = $2, ended_by = $3
WHERE id = $1 AND state <> 'ended'
RETURNING ` + sessionCols
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id, endedAt, nullString(endedBy)))
	if errors.Is(err, sql.ErrNoRows) {
		cur, err := r.GetSession(ctx, id)
		return cur, false, err
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) ExpireSession(ctx context.Context, id string, extendedSeconds int, endedAt time.Time) (Session, bool, error) {
	q := `
UPDATE video_sessions
SET state = 'ended', ended_at = $3, ended_by = NULL
WHERE id = $1 AND state <> 'ended' AND extended_seconds_total = $2
RETURNING ` + sessionCols
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id, extendedSeconds, endedAt))
	if errors.Is(err, sql.ErrNoRows) {
		cur, err := r.GetSession(ctx, id)
		return cur, false, err
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// --- extensions ---

const extensionCols = `id, session_id, initiator_id, responder_id, status, amount_cents, currency,
  extension_seconds, payment_reference, expires_at, created_at, updated_at`

func scanExtension(row rowScanner) (Extension, error) {
	var (
		e   Extension
		ref sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.InitiatorID,
		&e.ResponderID,
		&e.Status,
		&e.AmountCents,
		&e.Currency,
		&e.ExtensionSeconds,
		&ref,
		&e.ExpiresAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return Extension{}, err
	}
	e.PaymentReference = ref.String
	return e, nil
}

func (r *PostgresRepo) InsertExtension(ctx context.Context, e Extension) error {
	const q = `
INSERT INTO call_extensions (
  id, session_id, initiator_id, responder_id, status, amount_cents, currency,
  extension_seconds, expires_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		e.InitiatorID,
		e.ResponderID,
		e.Status,
		e.AmountCents,
		e.Currency,
		e.ExtensionSeconds,
		e.ExpiresAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	return mapInsertErr(err)
}

func (r *PostgresRepo) GetExtension(ctx context.Context, id string) (Extension, error) {
	q := `SELECT ` + extensionCols + ` FROM call_extensions WHERE id = $1`
	e, err := scanExtension(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Extension{}, apperr.NotFound("extension not found")
	}
	return e, err
}

func (r *PostgresRepo) OpenExtension(ctx context.Context, sessionID string) (Extension, bool, error) {
	q := `SELECT ` + extensionCols + `
FROM call_extensions
WHERE session_id = $1 AND status IN ('pending_acceptance', 'awaiting_payment')
LIMIT 1`
	e, err := scanExtension(r.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Extension{}, false, nil
	}
	if err != nil {
		return Extension{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) TransitionExtension(ctx context.Context, id string, from, to ExtensionStatus, patch ExtensionPatch) (bool, error) {
	const q = `
UPDATE call_extensions
SET status = $3,
    payment_reference = COALESCE($4, payment_reference),
    expires_at = COALESCE($5, expires_at),
    updated_at = $6
WHERE id = $1 AND status = $2
`
	var expires sql.NullTime
	if patch.ExpiresAt != nil {
		expires = sql.NullTime{Time: *patch.ExpiresAt, Valid: true}
	}
	return rowsAffected(r.db.ExecContext(ctx, q, id, from, to, nullString(patch.PaymentReference), expires, patch.At))
}

func (r *PostgresRepo) CompleteExtension(ctx context.Context, id string, at time.Time) (Session, bool, error) {
	var (
		out     Session
		applied bool
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const markQ = `
UPDATE call_extensions
SET status = 'completed', updated_at = $2
WHERE id = $1 AND status = 'awaiting_payment'
RETURNING session_id, extension_seconds
`
		var (
			sessionID string
			seconds   int
		)
		if err := tx.QueryRowContext(ctx, markQ, id, at).Scan(&sessionID, &seconds); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotApplied
			}
			return err
		}

		// Increment in place; completing during grace returns the session to active.
		extendQ := `
UPDATE video_sessions
SET extended_seconds_total = extended_seconds_total + $2,
    state = 'active',
    grace_expires_at = NULL
WHERE id = $1 AND state <> 'ended'
RETURNING ` + sessionCols
		s, err := scanSession(tx.QueryRowContext(ctx, extendQ, sessionID, seconds))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionEnded
		}
		if err != nil {
			return err
		}
		out, applied = s, true
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return Session{}, false, nil
	}
	if err != nil {
		if errors.Is(err, ErrSessionEnded) {
			return Session{}, false, err
		}
		return Session{}, false, fmt.Errorf("complete extension: %w", err)
	}
	return out, applied, nil
}

// --- proposals ---

const proposalCols = `id, match_id, proposer_id, responder_id, scheduled_at, status, session_id, created_at, updated_at`

func scanProposal(row rowScanner) (Proposal, error) {
	var (
		p         Proposal
		sessionID sql.NullString
	)
	if err := row.Scan(
		&p.ID,
		&p.MatchID,
		&p.ProposerID,
		&p.ResponderID,
		&p.ScheduledAt,
		&p.Status,
		&sessionID,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return Proposal{}, err
	}
	p.SessionID = sessionID.String
	return p, nil
}

func (r *PostgresRepo) InsertProposal(ctx context.Context, p Proposal) error {
	const q = `
INSERT INTO call_proposals (id, match_id, proposer_id, responder_id, scheduled_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q, p.ID, p.MatchID, p.ProposerID, p.ResponderID, p.ScheduledAt, p.Status, p.CreatedAt, p.UpdatedAt)
	return mapInsertErr(err)
}

func (r *PostgresRepo) GetProposal(ctx context.Context, id string) (Proposal, error) {
	q := `SELECT ` + proposalCols + ` FROM call_proposals WHERE id = $1`
	p, err := scanProposal(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, apperr.NotFound("proposal not found")
	}
	return p, err
}

func (r *PostgresRepo) TransitionProposal(ctx context.Context, id string, from, to ProposalStatus, at time.Time) (bool, error) {
	const q = `UPDATE call_proposals SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	return rowsAffected(r.db.ExecContext(ctx, q, id, from, to, at))
}

func (r *PostgresRepo) StartProposal(ctx context.Context, id string, sess Session, at time.Time) (bool, error) {
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertSession(ctx, tx, sess); err != nil {
			return err
		}
		const q = `
UPDATE call_proposals
SET status = 'started', session_id = $2, updated_at = $3
WHERE id = $1 AND status = 'accepted'
`
		ok, err := rowsAffected(tx.ExecContext(ctx, q, id, sess.ID, at))
		if err != nil {
			return err
		}
		if !ok {
			return errNotApplied
		}
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("start proposal: %w", mapInsertErr(err))
	}
	return true, nil
}
