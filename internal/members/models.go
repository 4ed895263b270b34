package members

import (
	"time"

	"videodate-platform/internal/membership"
)

// User is the read-only slice of a profile this service needs.
// Tier changes are owned by the subscription system.
type User struct {
	ID        string          `json:"id" db:"id"`
	Tier      membership.Tier `json:"tier" db:"tier"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Match is an unordered pair of users that liked each other. Immutable.
type Match struct {
	ID        string    `json:"id" db:"id"`
	UserA     string    `json:"user_a" db:"user_a"`
	UserB     string    `json:"user_b" db:"user_b"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (m Match) Has(userID string) bool {
	return userID != "" && (m.UserA == userID || m.UserB == userID)
}

// Other returns the participant that is not userID, or "" if userID is not in the match.
func (m Match) Other(userID string) string {
	switch userID {
	case m.UserA:
		return m.UserB
	case m.UserB:
		return m.UserA
	}
	return ""
}
