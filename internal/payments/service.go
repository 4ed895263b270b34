package payments

import (
	"context"
	"fmt"
	"time"

	"videodate-platform/internal/apperr"

	"github.com/google/uuid"
)

// Repository persists authorizations.
type Repository interface {
	Insert(ctx context.Context, a Authorization) error
	Get(ctx context.Context, ref string) (Authorization, error)
	// Settle moves a pending authorization to a terminal status.
	// It reports false when the row was not pending.
	Settle(ctx context.Context, ref string, status Status, at time.Time) (bool, error)
}

// Service is the Payment Collaborator used by extensions and credit purchases.
type Service struct {
	repo     Repository
	currency string
	clock    func() time.Time
}

func NewService(repo Repository, currency string) *Service {
	return &Service{repo: repo, currency: currency, clock: time.Now}
}

// CreateAuthorization records a pending charge for payerID and returns its reference.
func (s *Service) CreateAuthorization(ctx context.Context, payerID string, amountCents int64, metadata map[string]string) (string, error) {
	if payerID == "" || amountCents < 0 {
		return "", apperr.Invalid("payer and non-negative amount required")
	}
	now := s.clock().UTC()
	a := Authorization{
		Ref:         "pay_" + uuid.NewString(),
		PayerID:     payerID,
		AmountCents: amountCents,
		Currency:    s.currency,
		Metadata:    metadata,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		return "", fmt.Errorf("create authorization: %w", err)
	}
	return a.Ref, nil
}

func (s *Service) GetAuthorization(ctx context.Context, ref string) (Authorization, error) {
	if ref == "" {
		return Authorization{}, apperr.Invalid("payment reference required")
	}
	return s.repo.Get(ctx, ref)
}

func (s *Service) GetAuthorizationStatus(ctx context.Context, ref string) (Status, error) {
	a, err := s.GetAuthorization(ctx, ref)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}

var ErrAlreadySettled = apperr.Conflict("already_settled", "authorization already settled with a different status")

// Settle applies the provider's outcome. Repeating the same outcome is a no-op;
// terminal states are final.
func (s *Service) Settle(ctx context.Context, ref string, status Status) (Authorization, error) {
	if !status.Terminal() {
		return Authorization{}, apperr.Invalid("status must be succeeded or failed")
	}
	ok, err := s.repo.Settle(ctx, ref, status, s.clock().UTC())
	if err != nil {
		return Authorization{}, fmt.Errorf("settle authorization: %w", err)
	}
	a, err := s.repo.Get(ctx, ref)
	if err != nil {
		return Authorization{}, err
	}
	if !ok && a.Status != status {
		return a, ErrAlreadySettled
	}
	return a, nil
}
