package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/pkg/utils"
)

// PostgresRepo stores authorizations in payment_authorizations.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, a Authorization) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO payment_authorizations (
  ref, payer_id, amount_cents, currency, metadata, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err = r.db.ExecContext(ctx, q, a.Ref, a.PayerID, a.AmountCents, a.Currency, meta, a.Status, a.CreatedAt, a.UpdatedAt)
	if utils.IsUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, ref string) (Authorization, error) {
	const q = `
SELECT ref, payer_id, amount_cents, currency, metadata, status, created_at, updated_at
FROM payment_authorizations
WHERE ref = $1
`
	var (
		a    Authorization
		meta []byte
	)
	if err := r.db.QueryRowContext(ctx, q, ref).Scan(
		&a.Ref,
		&a.PayerID,
		&a.AmountCents,
		&a.Currency,
		&meta,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Authorization{}, apperr.NotFound("payment authorization not found")
		}
		return Authorization{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return Authorization{}, err
		}
	}
	return a, nil
}

func (r *PostgresRepo) Settle(ctx context.Context, ref string, status Status, at time.Time) (bool, error) {
	const q = `
UPDATE payment_authorizations
SET status = $2, updated_at = $3
WHERE ref = $1 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, ref, status, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
