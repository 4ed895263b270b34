package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HostedProvider creates rooms through a hosted video API (POST {base}/rooms)
// and signs join tokens locally with the shared secret.
type HostedProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  *TokenSigner
}

func NewHostedProvider(baseURL, apiKey string, tokens *TokenSigner) (*HostedProvider, error) {
	if baseURL == "" || apiKey == "" {
		return nil, errors.New("VIDEO_API_URL and VIDEO_API_KEY are required")
	}
	if tokens == nil {
		return nil, errors.New("video: token signer is nil")
	}
	return &HostedProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
	}, nil
}

func (p *HostedProvider) Name() string { return "hosted" }

type createRoomBody struct {
	Privacy    string            `json:"privacy"`
	Properties createRoomOptions `json:"properties"`
}

type createRoomOptions struct {
	ExpiresAt int64 `json:"exp,omitempty"`
}

type roomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (p *HostedProvider) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	body := createRoomBody{Privacy: "private"}
	var expires time.Time
	if req.MaxDuration > 0 {
		expires = time.Now().Add(req.MaxDuration).UTC()
		body.Properties.ExpiresAt = expires.Unix()
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return Room{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rooms", bytes.NewReader(buf))
	if err != nil {
		return Room{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return Room{}, fmt.Errorf("video: create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Room{}, fmt.Errorf("video: create room: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Room{}, fmt.Errorf("video: decode room: %w", err)
	}
	if out.Name == "" || out.URL == "" {
		return Room{}, errors.New("video: provider returned an empty room")
	}
	return Room{Name: out.Name, URL: out.URL, ExpiresAt: expires}, nil
}

func (p *HostedProvider) IssueJoinToken(ctx context.Context, roomName, userID string) (string, error) {
	return p.tokens.Sign(roomName, userID)
}
