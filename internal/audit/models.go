package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; critical flows never block on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the user whose request caused the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	SessionID   string `json:"session_id,omitempty" db:"session_id"`
	ExtensionID string `json:"extension_id,omitempty" db:"extension_id"`
	PaymentRef  string `json:"payment_ref,omitempty" db:"payment_ref"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSessionEnded           EventType = "session_ended"
	EventTypeExtensionCompleted     EventType = "extension_completed"
	EventTypeExtensionPaymentFailed EventType = "extension_payment_failed"
	EventTypeCreditsGranted         EventType = "credits_granted"
)
