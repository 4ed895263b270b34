package video

import (
	"context"
	"time"
)

// Provider is the video-room capability consumed by the call services.
//
// Rules:
// - No provider SDK or HTTP calls outside this package.
// - Request/response types stay provider-agnostic.
type Provider interface {
	Name() string
	CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error)
	IssueJoinToken(ctx context.Context, roomName, userID string) (string, error)
}

type CreateRoomRequest struct {
	// MaxDuration bounds how long the provider keeps the room open.
	MaxDuration time.Duration
}

type Room struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
