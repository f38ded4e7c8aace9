package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

const EventPurchaseCompleted = "purchase_completed"

type Transaction struct {
	ID            int64             `json:"id"`
	Reference     string            `json:"reference"`
	UserID        int64             `json:"user_id"`
	SessionID     string            `json:"session_id"`
	Quantity      decimal.Decimal   `json:"quantity"`
	UnitPrice     decimal.Decimal   `json:"unit_price"`
	Total         decimal.Decimal   `json:"total"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	PaymentMethod string            `json:"payment_method"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AnalyticsEvent is an append-only audit record written in the same atomic
// unit as the transaction that triggered it.
type AnalyticsEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	UserID    *int64         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Receipt is the durable confirmation returned to the buyer.
type Receipt struct {
	Reference     string            `json:"transaction_id"`
	Quantity      decimal.Decimal   `json:"quantity"`
	UnitPrice     decimal.Decimal   `json:"unit_price"`
	Total         decimal.Decimal   `json:"total"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	PaymentMethod string            `json:"payment_method"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (t *Transaction) Receipt() *Receipt {
	return &Receipt{
		Reference:     t.Reference,
		Quantity:      t.Quantity,
		UnitPrice:     t.UnitPrice,
		Total:         t.Total,
		Currency:      t.Currency,
		Status:        t.Status,
		PaymentMethod: t.PaymentMethod,
		CreatedAt:     t.CreatedAt,
	}
}
