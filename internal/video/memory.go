package video

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider hands out fake rooms. Used in tests and when no video API is configured locally.
type MemoryProvider struct {
	baseURL string
	tokens  *TokenSigner

	mu    sync.Mutex
	rooms []Room
}

func NewMemoryProvider(baseURL string, tokens *TokenSigner) *MemoryProvider {
	return &MemoryProvider{baseURL: baseURL, tokens: tokens}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	name := "room-" + uuid.NewString()
	r := Room{Name: name, URL: p.baseURL + "/" + name}
	p.mu.Lock()
	p.rooms = append(p.rooms, r)
	p.mu.Unlock()
	return r, nil
}

func (p *MemoryProvider) IssueJoinToken(ctx context.Context, roomName, userID string) (string, error) {
	if p.tokens == nil {
		return "token-" + roomName + "-" + userID, nil
	}
	return p.tokens.Sign(roomName, userID)
}

// Rooms returns every room created so far.
func (p *MemoryProvider) Rooms() []Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Room, len(p.rooms))
	copy(out, p.rooms)
	return out
}
