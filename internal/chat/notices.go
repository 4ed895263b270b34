package chat

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notice is a system-authored line in a match conversation.
type Notice struct {
	ID        string    `json:"id" db:"id"`
	MatchID   string    `json:"match_id" db:"match_id"`
	Kind      string    `json:"kind" db:"kind"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const KindCallDeclined = "call_declined"

// PostgresPoster writes notices to chat_notices, which the chat service renders.
type PostgresPoster struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresPoster(db *sql.DB) *PostgresPoster {
	return &PostgresPoster{db: db, clock: time.Now}
}

func (p *PostgresPoster) PostSystemNotice(ctx context.Context, matchID, kind, body string) error {
	const q = `
INSERT INTO chat_notices (id, match_id, sender_id, kind, body, created_at)
VALUES ($1, $2, NULL, $3, $4, $5)
`
	_, err := p.db.ExecContext(ctx, q, uuid.NewString(), matchID, kind, body, p.clock().UTC())
	return err
}

// MemoryPoster records notices in memory.
type MemoryPoster struct {
	mu      sync.Mutex
	notices []Notice
}

func NewMemoryPoster() *MemoryPoster { return &MemoryPoster{} }

func (p *MemoryPoster) PostSystemNotice(ctx context.Context, matchID, kind, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, Notice{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		Kind:      kind,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (p *MemoryPoster) Notices(matchID string) []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Notice
	for _, n := range p.notices {
		if n.MatchID == matchID {
			out = append(out, n)
		}
	}
	return out
}
