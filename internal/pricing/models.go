package pricing

import "time"

// Amounts are expressed in minor units (cents) using int64.

// Product identifies something a user can pay for.
type Product string

const (
	// ProductCallExtension is one fixed-size extension of a video session.
	ProductCallExtension Product = "call_extension"
	// ProductCreditPack is a bundle of message credits.
	ProductCreditPack Product = "credit_pack"
)

// Price is an effective-dated list price for a product.
type Price struct {
	ID      string  `json:"id" db:"id"`
	Product Product `json:"product" db:"product"`

	Currency    string `json:"currency" db:"currency"`
	AmountCents int64  `json:"amount_cents" db:"amount_cents"`

	// Units is seconds for extensions and messages for credit packs.
	Units int `json:"units" db:"units"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PriceStatus `json:"status" db:"status"`
}

type PriceStatus string

const (
	PriceStatusActive   PriceStatus = "active"
	PriceStatusInactive PriceStatus = "inactive"
)

// Quote is what the client is shown before paying.
type Quote struct {
	Product     Product `json:"product"`
	Currency    string  `json:"currency"`
	Units       int     `json:"units"`
	ListCents   int64   `json:"list_cents"`
	AmountCents int64   `json:"amount_cents"`
	DiscountPct int     `json:"discount_pct,omitempty"`
}
