package pricing

import (
	"context"
	"errors"
	"time"
)

// Service quotes extension and credit prices.
// Pure calculation + repository lookups; no payment calls.
type Service struct {
	repo  PriceRepository
	clock func() time.Time

	// rewardDiscountPct applies to credit packs while the buyer has an active monthly reward.
	rewardDiscountPct int
}

func NewService(repo PriceRepository, rewardDiscountPct int) *Service {
	return &Service{repo: repo, clock: time.Now, rewardDiscountPct: rewardDiscountPct}
}

var ErrPriceNotFound = errors.New("price not found")

// PriceRepository abstracts price persistence.
type PriceRepository interface {
	FindPrice(ctx context.Context, product Product, at time.Time) (Price, bool, error)
}

// ExtensionQuote returns the fixed price of one call extension.
func (s *Service) ExtensionQuote(ctx context.Context) (Quote, error) {
	p, err := s.find(ctx, ProductCallExtension)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Product:     p.Product,
		Currency:    p.Currency,
		Units:       p.Units,
		ListCents:   p.AmountCents,
		AmountCents: p.AmountCents,
	}, nil
}

// CreditPackQuote prices one credit pack, discounted when hasActiveReward is set.
func (s *Service) CreditPackQuote(ctx context.Context, hasActiveReward bool) (Quote, error) {
	p, err := s.find(ctx, ProductCreditPack)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Product:     p.Product,
		Currency:    p.Currency,
		Units:       p.Units,
		ListCents:   p.AmountCents,
		AmountCents: p.AmountCents,
	}
	if hasActiveReward && s.rewardDiscountPct > 0 {
		q.DiscountPct = s.rewardDiscountPct
		q.AmountCents = applyDiscount(p.AmountCents, s.rewardDiscountPct)
	}
	return q, nil
}

func (s *Service) find(ctx context.Context, product Product) (Price, error) {
	p, ok, err := s.repo.FindPrice(ctx, product, s.clock().UTC())
	if err != nil {
		return Price{}, err
	}
	if !ok || p.Units <= 0 || p.AmountCents < 0 {
		return Price{}, ErrPriceNotFound
	}
	return p, nil
}

// applyDiscount rounds the discounted amount down to whole cents.
func applyDiscount(amountCents int64, pct int) int64 {
	if pct <= 0 {
		return amountCents
	}
	if pct >= 100 {
		return 0
	}
	return amountCents * int64(100-pct) / 100
}
