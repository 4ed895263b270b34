package apperr

import (
	"errors"
	"time"
)

// Kind is the stable error category returned to callers.
// Keep these values stable; they are part of the HTTP contract.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindExpired              Kind = "expired"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindTierForbidden        Kind = "tier_forbidden"
	KindPaymentNotAuthorized Kind = "payment_not_authorized"
	KindInvalidTransition    Kind = "invalid_transition"
	KindInvalid              Kind = "invalid_argument"
	KindInternal             Kind = "internal"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrExpired              = &Error{Kind: KindExpired}
	ErrQuotaExceeded        = &Error{Kind: KindQuotaExceeded}
	ErrTierForbidden        = &Error{Kind: KindTierForbidden}
	ErrPaymentNotAuthorized = &Error{Kind: KindPaymentNotAuthorized}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrInvalid              = &Error{Kind: KindInvalid}
)

// Error is an expected, typed failure. Anything that is not an *Error is
// treated as internal by the transport layer.
type Error struct {
	Kind      Kind   `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// Details is either *QuotaDetail or *TierDetail when present.
	Details any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches on Kind, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// QuotaDetail tells the client which allowance ran out and how to get more.
type QuotaDetail struct {
	Allowance          string     `json:"allowance"`
	Limit              int        `json:"limit"`
	Used               int        `json:"used"`
	ResetsAt           *time.Time `json:"resets_at,omitempty"`
	UpgradeTier        string     `json:"upgrade_tier,omitempty"`
	CanPurchaseCredits bool       `json:"can_purchase_credits"`
}

// TierDetail tells the client which tier unlocks the action.
type TierDetail struct {
	CurrentTier  string `json:"current_tier"`
	RequiredTier string `json:"required_tier,omitempty"`
}

func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, "", message) }

func NotFound(message string) *Error { return New(KindNotFound, "", message) }

func Conflict(reason, message string) *Error { return New(KindConflict, reason, message) }

func Expired(message string) *Error { return New(KindExpired, "", message) }

func Invalid(message string) *Error { return New(KindInvalid, "", message) }

func InvalidTransition(reason, message string) *Error {
	return New(KindInvalidTransition, reason, message)
}

func Quota(reason string, d QuotaDetail) *Error {
	return &Error{Kind: KindQuotaExceeded, Reason: reason, Message: "no remaining " + d.Allowance, Details: &d}
}

func Tier(reason string, d TierDetail) *Error {
	return &Error{Kind: KindTierForbidden, Reason: reason, Message: "membership tier does not allow this action", Details: &d}
}

func PaymentNotAuthorized(reason string, retryable bool) *Error {
	return &Error{Kind: KindPaymentNotAuthorized, Reason: reason, Message: "payment authorization has not succeeded", Retryable: retryable}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the typed error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
