package pricing

import (
	"context"
	"time"

	"videodate-platform/internal/config"
)

// MemoryRepo holds a fixed price list. The API process builds one from configuration.
type MemoryRepo struct {
	Prices []Price
}

// NewConfiguredRepo returns the price list described by the calls and ledger settings.
func NewConfiguredRepo(cfg config.Config) *MemoryRepo {
	return &MemoryRepo{Prices: []Price{
		{
			ID: "cfg-extension", Product: ProductCallExtension, Currency: cfg.Payments.Currency,
			AmountCents: cfg.Calls.ExtensionPriceCents, Units: cfg.Calls.ExtensionSeconds, Status: PriceStatusActive,
		},
		{
			ID: "cfg-credit-pack", Product: ProductCreditPack, Currency: cfg.Payments.Currency,
			AmountCents: cfg.Ledger.CreditPackPriceCents, Units: cfg.Ledger.CreditPackSize, Status: PriceStatusActive,
		},
	}}
}

func (r *MemoryRepo) FindPrice(ctx context.Context, product Product, at time.Time) (Price, bool, error) {
	_ = ctx

	// Prefer the most recent effective price row.
	var best Price
	found := false

	for _, p := range r.Prices {
		if p.Product != product {
			continue
		}
		if p.Status != PriceStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
