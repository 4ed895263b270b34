package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	s, err := NewTokenSigner("secret", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, err := s.Sign("room-1", "u1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Room != "room-1" || c.UserID != "u1" {
		t.Fatalf("unexpected claims: %+v", c)
	}

	s.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Verify(tok); err == nil {
		t.Fatalf("expected expired token")
	}
}

func TestHostedProvider_CreateRoom(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rooms" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "abc", "url": "https://video.example/abc"})
	}))
	defer srv.Close()

	signer, _ := NewTokenSigner("secret", time.Hour)
	p, err := NewHostedProvider(srv.URL+"/", "key-1", signer)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	room, err := p.CreateRoom(context.Background(), CreateRoomRequest{MaxDuration: 10 * time.Minute})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.Name != "abc" || room.URL != "https://video.example/abc" || room.ExpiresAt.IsZero() {
		t.Fatalf("unexpected room: %+v", room)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("expected bearer api key, got %q", gotAuth)
	}
}

func TestHostedProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	signer, _ := NewTokenSigner("secret", time.Hour)
	p, _ := NewHostedProvider(srv.URL, "key", signer)
	if _, err := p.CreateRoom(context.Background(), CreateRoomRequest{}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}
