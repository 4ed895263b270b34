package utils

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowScriptCompiles(t *testing.T) {
	if fixedWindowScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestNewFixedWindowLimiter_Validates(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "ring:", 5, time.Minute); err == nil {
		t.Fatalf("expected nil client error")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewFixedWindowLimiter(rdb, "ring:", 0, time.Minute); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := NewFixedWindowLimiter(rdb, "ring:", 5, 0); err == nil {
		t.Fatalf("expected window error")
	}
	l, err := NewFixedWindowLimiter(rdb, "ring:", 5, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if l.Limit() != 5 || l.Window() != time.Minute {
		t.Fatalf("unexpected limiter: %+v", l)
	}
}
