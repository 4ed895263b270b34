package payments

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"videodate-platform/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepo(), "USD")

	ref, err := svc.CreateAuthorization(ctx, "u1", 299, map[string]string{"extension_id": "e1"})
	require.NoError(t, err)

	st, err := svc.GetAuthorizationStatus(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StatusPending, st)

	a, err := svc.Settle(ctx, ref, StatusSucceeded)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, a.Status)

	// Same outcome is idempotent; a different one is rejected.
	_, err = svc.Settle(ctx, ref, StatusSucceeded)
	require.NoError(t, err)
	_, err = svc.Settle(ctx, ref, StatusFailed)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.GetAuthorizationStatus(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	svc := NewService(NewMemoryRepo(), "USD")
	ref, err := svc.CreateAuthorization(ctx, "u1", 499, nil)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/webhooks/payments", WebhookHandler(svc, "whsec"))

	post := func(body []byte, sig string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
		req.Header.Set("X-Signature", sig)
		r.ServeHTTP(w, req)
		return w.Code
	}

	body := []byte(`{"ref":"` + ref + `","status":"failed"}`)
	require.Equal(t, http.StatusUnauthorized, post(body, "deadbeef"))
	require.Equal(t, http.StatusOK, post(body, Sign([]byte("whsec"), body)))

	st, err := svc.GetAuthorizationStatus(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st)

	unknown := []byte(`{"ref":"nope","status":"succeeded"}`)
	require.Equal(t, http.StatusNotFound, post(unknown, Sign([]byte("whsec"), unknown)))
}
