package payments

import "time"

// Status of a payment authorization. pending is the only non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

// Authorization is a request to charge a payer, settled by the checkout provider.
// Card data never reaches this service.
type Authorization struct {
	Ref         string            `json:"ref" db:"ref"`
	PayerID     string            `json:"payer_id" db:"payer_id"`
	AmountCents int64             `json:"amount_cents" db:"amount_cents"`
	Currency    string            `json:"currency" db:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	Status      Status            `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}
