package httpapi

import (
	"net/http"

	"videodate-platform/internal/apperr"
	"videodate-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindUnauthorized, apperr.KindTierForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.KindPaymentNotAuthorized:
		return http.StatusPaymentRequired
	case apperr.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders typed errors as-is and hides everything else behind a 500.
func writeError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": string(apperr.KindInternal), "message": "internal error"})
		return
	}
	c.AbortWithStatusJSON(StatusFor(e.Kind), e)
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, apperr.Invalid(msg))
}
