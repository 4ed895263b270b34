package calls

import (
	"context"
	"errors"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/payments"
	"videodate-platform/pkg/logger"

	"github.com/google/uuid"
)

// PaymentResult is returned by ConfirmPayment.
type PaymentResult struct {
	Extension Extension `json:"extension"`
	Session   Session   `json:"session"`
}

// liveExtension returns the open extension of a session, expiring it first when its deadline passed.
func (s *Service) liveExtension(ctx context.Context, sessionID string, now time.Time) (Extension, bool) {
	e, ok, err := s.repo.OpenExtension(ctx, sessionID)
	if err != nil {
		warn(ctx, "load open extension failed", err, "session_id", sessionID)
		return Extension{}, false
	}
	if !ok {
		return Extension{}, false
	}
	if isExpired(e.ExpiresAt, now) {
		s.expireExtension(ctx, e, now)
		return Extension{}, false
	}
	return e, true
}

func (s *Service) expireExtension(ctx context.Context, e Extension, now time.Time) {
	if _, err := s.repo.TransitionExtension(ctx, e.ID, e.Status, ExtensionExpired, ExtensionPatch{At: now}); err != nil {
		warn(ctx, "extension expiry write-back failed", err, "extension_id", e.ID)
	}
}

// RequestExtension opens a paid extension negotiation on a live session.
func (s *Service) RequestExtension(ctx context.Context, sessionID, initiatorID string) (Extension, error) {
	sess, err := s.participantSession(ctx, sessionID, initiatorID)
	if err != nil {
		return Extension{}, err
	}
	now := s.now()
	if s.settle(ctx, sess, now).State == SessionEnded {
		return Extension{}, ErrSessionEnded
	}
	if _, ok := s.liveExtension(ctx, sess.ID, now); ok {
		return Extension{}, apperr.Conflict(ReasonNegotiationInFlight, "an extension is already being negotiated")
	}

	amount, seconds, currency, err := s.extensionPrice(ctx)
	if err != nil {
		return Extension{}, err
	}
	e := Extension{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		InitiatorID:      initiatorID,
		ResponderID:      sess.Other(initiatorID),
		Status:           ExtensionPendingAcceptance,
		AmountCents:      amount,
		Currency:         currency,
		ExtensionSeconds: seconds,
		ExpiresAt:        now.Add(s.cfg.ExtensionResponseTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.InsertExtension(ctx, e); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Extension{}, apperr.Conflict(ReasonNegotiationInFlight, "an extension is already being negotiated")
		}
		return Extension{}, err
	}
	return e, nil
}

func (s *Service) extensionPrice(ctx context.Context) (int64, int, string, error) {
	if s.pricing == nil {
		return s.cfg.ExtensionPriceCents, s.cfg.ExtensionSeconds, "USD", nil
	}
	q, err := s.pricing.ExtensionQuote(ctx)
	if err != nil {
		return 0, 0, "", err
	}
	return q.AmountCents, q.Units, q.Currency, nil
}

// RespondToExtension is the other participant agreeing to (or refusing) the extension.
// Accepting creates a payment authorization for the initiator.
func (s *Service) RespondToExtension(ctx context.Context, extensionID, responderID string, action Action) (Extension, error) {
	if action != ActionAccept && action != ActionDecline {
		return Extension{}, apperr.Invalid("action must be accept or decline")
	}
	e, err := s.repo.GetExtension(ctx, extensionID)
	if err != nil {
		return Extension{}, err
	}
	if e.ResponderID != responderID {
		return Extension{}, apperr.Unauthorized("only the other participant can respond")
	}
	if e.Status == ExtensionExpired {
		return Extension{}, apperr.Expired("extension request expired")
	}
	if e.Status != ExtensionPendingAcceptance {
		return Extension{}, apperr.InvalidTransition(ReasonAlreadyResponded, "extension is "+string(e.Status))
	}
	now := s.now()
	if isExpired(e.ExpiresAt, now) {
		s.expireExtension(ctx, e, now)
		return Extension{}, apperr.Expired("extension request expired")
	}
	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return Extension{}, err
	}
	if s.settle(ctx, sess, now).State == SessionEnded {
		return Extension{}, ErrSessionEnded
	}

	if action == ActionDecline {
		ok, err := s.repo.TransitionExtension(ctx, e.ID, ExtensionPendingAcceptance, ExtensionDeclined, ExtensionPatch{At: now})
		if err != nil {
			return Extension{}, err
		}
		if !ok {
			return Extension{}, s.lostExtensionRace(ctx, e.ID)
		}
		e.Status = ExtensionDeclined
		e.UpdatedAt = now
		return e, nil
	}

	ref, err := s.payments.CreateAuthorization(ctx, e.InitiatorID, e.AmountCents, map[string]string{
		"product":      "call_extension",
		"extension_id": e.ID,
		"session_id":   e.SessionID,
	})
	if err != nil {
		return Extension{}, err
	}
	deadline := now.Add(s.cfg.ExtensionPaymentTTL)
	ok, err := s.repo.TransitionExtension(ctx, e.ID, ExtensionPendingAcceptance, ExtensionAwaitingPayment, ExtensionPatch{
		PaymentReference: ref,
		ExpiresAt:        &deadline,
		At:               now,
	})
	if err != nil {
		return Extension{}, err
	}
	if !ok {
		logger.From(ctx).Warn("payment authorization left unused", "payment_ref", ref, "extension_id", e.ID)
		return Extension{}, s.lostExtensionRace(ctx, e.ID)
	}
	e.Status = ExtensionAwaitingPayment
	e.PaymentReference = ref
	e.ExpiresAt = deadline
	e.UpdatedAt = now
	return e, nil
}

func (s *Service) lostExtensionRace(ctx context.Context, id string) error {
	e, err := s.repo.GetExtension(ctx, id)
	if err != nil {
		return err
	}
	if e.Status == ExtensionExpired {
		return apperr.Expired("extension request expired")
	}
	return apperr.InvalidTransition(ReasonAlreadyResponded, "extension is "+string(e.Status))
}

// ConfirmPayment applies the extension once the initiator's payment succeeded.
// Replaying a confirmation for a completed extension returns the same result
// without adding time twice.
func (s *Service) ConfirmPayment(ctx context.Context, extensionID, initiatorID, paymentRef string) (PaymentResult, error) {
	e, err := s.repo.GetExtension(ctx, extensionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if e.InitiatorID != initiatorID {
		return PaymentResult{}, apperr.Unauthorized("only the initiator can confirm payment")
	}
	if paymentRef == "" || paymentRef != e.PaymentReference {
		return PaymentResult{}, apperr.New(apperr.KindInvalid, ReasonPaymentRefMismatch, "payment reference does not match this extension")
	}
	if e.Status == ExtensionCompleted {
		return s.paymentResult(ctx, e)
	}
	if e.Status != ExtensionAwaitingPayment {
		return PaymentResult{}, apperr.InvalidTransition(ReasonNegotiationClosed, "extension is "+string(e.Status))
	}
	now := s.now()
	if isExpired(e.ExpiresAt, now) {
		s.expireExtension(ctx, e, now)
		return PaymentResult{}, apperr.Expired("payment window expired")
	}
	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if s.settle(ctx, sess, now).State == SessionEnded {
		return PaymentResult{}, ErrSessionEnded
	}

	status, err := s.payments.GetAuthorizationStatus(ctx, paymentRef)
	if err != nil {
		return PaymentResult{}, err
	}
	var ok bool
	switch status {
	case payments.StatusSucceeded:
	case payments.StatusPending:
		return PaymentResult{}, apperr.PaymentNotAuthorized(ReasonPaymentPending, true)
	default:
		failed, err := s.repo.TransitionExtension(ctx, e.ID, ExtensionAwaitingPayment, ExtensionPaymentFailed, ExtensionPatch{At: now})
		if err != nil {
			return PaymentResult{}, err
		}
		if !failed {
			return PaymentResult{}, s.lostExtensionRace(ctx, e.ID)
		}
		s.audit.ExtensionPaymentFailed(ctx, initiatorID, e.SessionID, e.ID, paymentRef)
		// Retryable: the initiator may open a fresh extension request.
		return PaymentResult{}, apperr.PaymentNotAuthorized(ReasonPaymentFailed, true)
	}

	sess, ok, err = s.repo.CompleteExtension(ctx, e.ID, now)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) {
			logger.From(ctx).Warn("payment succeeded after session ended", "payment_ref", paymentRef, "extension_id", e.ID)
		}
		return PaymentResult{}, err
	}
	if !ok {
		cur, err := s.repo.GetExtension(ctx, e.ID)
		if err != nil {
			return PaymentResult{}, err
		}
		if cur.Status == ExtensionCompleted {
			return s.paymentResult(ctx, cur)
		}
		return PaymentResult{}, apperr.InvalidTransition(ReasonNegotiationClosed, "extension is "+string(cur.Status))
	}
	s.audit.ExtensionCompleted(ctx, initiatorID, e.SessionID, e.ID, paymentRef, e.ExtensionSeconds)
	e.Status = ExtensionCompleted
	e.UpdatedAt = now
	return PaymentResult{Extension: e, Session: sess}, nil
}

func (s *Service) paymentResult(ctx context.Context, e Extension) (PaymentResult, error) {
	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Extension: e, Session: sess}, nil
}
