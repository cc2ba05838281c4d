package orders

import "time"

type Order struct {
	ID         string      `json:"id"`
	ExternalID string      `json:"external_id"`
	UserID     string      `json:"user_id"`
	SellerID   string      `json:"seller_id"`
	Status     Status      `json:"status"`
	TotalCents int         `json:"total_cents"`
	Lines      []OrderLine `json:"lines"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OrderLine keeps per-item quantity so a cancellation can reverse exactly
// what was reserved, even when the same product repeats across orders.
type OrderLine struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

type LineInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}
