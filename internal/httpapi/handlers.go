package httpapi

import (
	"net/http"
	"time"

	"videodate-platform/internal/auth"
	"videodate-platform/internal/calls"
	"videodate-platform/internal/entitlements"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls  *calls.Service
	Ledger *entitlements.Service
}

func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

type respondRequest struct {
	Action calls.Action `json:"action"`
	Reason string       `json:"reason,omitempty"`
}

func bindRespond(c *gin.Context) (respondRequest, bool) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return req, false
	}
	if req.Action != calls.ActionAccept && req.Action != calls.ActionDecline {
		badRequest(c, "action must be accept or decline")
		return req, false
	}
	return req, true
}

// --- Messaging entitlements ---

func (h Handlers) CanSendMessage(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	el, err := h.Ledger.CanSendMessage(c.Request.Context(), uid, c.Param("match_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, el)
}

// RecordMessageSent is called by the chat service after it accepted a message.
func (h Handlers) RecordMessageSent(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	src, err := h.Ledger.RecordMessageSent(c.Request.Context(), uid, c.Param("match_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": src})
}

func (h Handlers) EntitlementStatus(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	st, err := h.Ledger.GetStatus(c.Request.Context(), uid, c.Query("match_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) RewardStatus(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	r, err := h.Ledger.RewardStatus(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) QuoteCredits(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	q, err := h.Ledger.QuoteCredits(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) PurchaseCredits(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.Ledger.PurchaseCredits(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type claimCreditsRequest struct {
	Ref string `json:"ref"`
}

func (h Handlers) ClaimCredits(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req claimCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Ref == "" {
		badRequest(c, "ref required")
		return
	}
	claim, err := h.Ledger.ClaimCredits(c.Request.Context(), uid, req.Ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

// --- Invitations ---

func (h Handlers) CreateInvitation(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	inv, err := h.Calls.CreateInvitation(c.Request.Context(), uid, c.Param("match_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h Handlers) RespondToInvitation(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	req, ok := bindRespond(c)
	if !ok {
		return
	}
	res, err := h.Calls.RespondToInvitation(c.Request.Context(), uid, c.Param("invitation_id"), req.Action, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// IncomingInvitation is the callee's poll; 204 when nothing is ringing.
func (h Handlers) IncomingInvitation(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	inv, err := h.Calls.PollForCallee(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if inv == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h Handlers) OutgoingInvitation(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	poll, err := h.Calls.PollForCaller(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if poll == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// --- Sessions ---

type createSessionRequest struct {
	CalleeID string `json:"callee_id"`
}

func (h Handlers) CreateSession(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CalleeID == "" {
		badRequest(c, "callee_id required")
		return
	}
	sess, err := h.Calls.CreateSession(c.Request.Context(), c.Param("match_id"), uid, req.CalleeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) GetSession(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	v, err := h.Calls.GetSessionView(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type transitionRequest struct {
	State calls.SessionState `json:"state"`
}

func (h Handlers) TransitionSession(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.State == "" {
		badRequest(c, "state required")
		return
	}
	v, err := h.Calls.TransitionState(c.Request.Context(), c.Param("session_id"), uid, req.State)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) JoinSession(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	j, err := h.Calls.JoinSession(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// --- Extensions ---

func (h Handlers) RequestExtension(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	e, err := h.Calls.RequestExtension(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h Handlers) RespondToExtension(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	req, ok := bindRespond(c)
	if !ok {
		return
	}
	e, err := h.Calls.RespondToExtension(c.Request.Context(), c.Param("extension_id"), uid, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type confirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref"`
}

func (h Handlers) ConfirmPayment(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PaymentRef == "" {
		badRequest(c, "payment_ref required")
		return
	}
	res, err := h.Calls.ConfirmPayment(c.Request.Context(), c.Param("extension_id"), uid, req.PaymentRef)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Scheduled proposals ---

type proposeRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (h Handlers) ProposeCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ScheduledAt.IsZero() {
		badRequest(c, "scheduled_at (RFC 3339) required")
		return
	}
	p, err := h.Calls.ProposeCall(c.Request.Context(), uid, c.Param("match_id"), req.ScheduledAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h Handlers) GetProposal(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.Calls.GetProposal(c.Request.Context(), c.Param("proposal_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) RespondToProposal(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	req, ok := bindRespond(c)
	if !ok {
		return
	}
	p, err := h.Calls.RespondToProposal(c.Request.Context(), uid, c.Param("proposal_id"), req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) StartScheduledCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	res, err := h.Calls.StartScheduledCall(c.Request.Context(), uid, c.Param("proposal_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Register mounts every handler on g. Identity middleware must already be on g.
func (h Handlers) Register(g *gin.RouterGroup) {
	m := g.Group("/matches/:match_id")
	m.GET("/messages/eligibility", h.CanSendMessage)
	m.POST("/messages/sent", h.RecordMessageSent)
	m.POST("/invitations", h.CreateInvitation)
	m.POST("/sessions", h.CreateSession)
	m.POST("/proposals", h.ProposeCall)

	g.GET("/entitlements", h.EntitlementStatus)
	g.GET("/rewards", h.RewardStatus)
	g.GET("/credits/quote", h.QuoteCredits)
	g.POST("/credits/purchase", h.PurchaseCredits)
	g.POST("/credits/claim", h.ClaimCredits)

	g.GET("/invitations/incoming", h.IncomingInvitation)
	g.GET("/invitations/outgoing", h.OutgoingInvitation)
	g.POST("/invitations/:invitation_id/respond", h.RespondToInvitation)

	g.GET("/sessions/:session_id", h.GetSession)
	g.POST("/sessions/:session_id/state", h.TransitionSession)
	g.POST("/sessions/:session_id/join", h.JoinSession)
	g.POST("/sessions/:session_id/extensions", h.RequestExtension)

	g.POST("/extensions/:extension_id/respond", h.RespondToExtension)
	g.POST("/extensions/:extension_id/confirm", h.ConfirmPayment)

	g.GET("/proposals/:proposal_id", h.GetProposal)
	g.POST("/proposals/:proposal_id/respond", h.RespondToProposal)
	g.POST("/proposals/:proposal_id/start", h.StartScheduledCall)
}

