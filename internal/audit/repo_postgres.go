package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. It never updates or deletes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, session_id, extension_id, payment_ref, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		nullable(e.ActorUserID),
		nullable(e.SessionID),
		nullable(e.ExtensionID),
		nullable(e.PaymentRef),
		e.Message,
		jsonOrEmpty(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonOrEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
