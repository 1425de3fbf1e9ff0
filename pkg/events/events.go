// Package events defines example concrete event types producers raise
// through dispatch.Raiser. These give the dispatch core something concrete
// to carry end to end; any producer-supplied struct works equally well — the
// core never depends on this package.
package events

import "time"

// OrderCreated is raised when a new order is placed.
type OrderCreated struct {
	OrderID    string    `json:"orderId"`
	Total      int64     `json:"total"` // minor units (cents)
	Currency   string    `json:"currency"`
	CustomerID string    `json:"customerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PaymentCaptured is raised when a payment against an order settles.
type PaymentCaptured struct {
	PaymentID  string    `json:"paymentId"`
	OrderID    string    `json:"orderId"`
	Amount     int64     `json:"amount"` // minor units (cents)
	Currency   string    `json:"currency"`
	CapturedAt time.Time `json:"capturedAt"`
}
