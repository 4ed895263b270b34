package membership

import (
	"context"
	"errors"
	"net/http"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// TierResolver looks up the current tier of a user.
type TierResolver interface {
	TierOf(ctx context.Context, userID string) (Tier, error)
}

// RequireTier allows access only when the caller's tier is at least min.
// Identity must already be on the request context (see auth.RequireAccessToken).
func RequireTier(resolver TierResolver, min Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		tier, err := resolver.TierOf(c.Request.Context(), uid)
		if errors.Is(err, apperr.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, apperr.Unauthorized("unknown member"))
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tier lookup failed"})
			return
		}
		if !tier.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, apperr.Tier("tier_unavailable", apperr.TierDetail{
				CurrentTier:  string(tier),
				RequiredTier: string(min),
			}))
			return
		}
		c.Next()
	}
}
