package httpapi

import (
	"sync"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter is a token bucket per authenticated user, held in process.
// Clients poll invitations and sessions every couple of seconds; this keeps a
// single misbehaving client from hammering the database.
type UserRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

func NewUserRateLimiter(rps float64, burst int, ttl time.Duration) *UserRateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (l *UserRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	for k, o := range l.visitors {
		if now.Sub(o.lastSeen) > l.ttl {
			delete(l.visitors, k)
		}
	}
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Middleware keys on the user id set by auth.RequireAccessToken, falling back to the client IP.
func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := auth.UserID(c.Request.Context())
		if err != nil {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			writeError(c, apperr.Quota("request_rate", apperr.QuotaDetail{Allowance: "request_rate", Limit: l.burst, Used: l.burst}))
			return
		}
		c.Next()
	}
}
