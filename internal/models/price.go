package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one append-only price record for a gram of gold.
type PriceSnapshot struct {
	Currency   string          `json:"currency"`
	Price      decimal.Decimal `json:"price"`
	Source     string          `json:"source"`
	RecordedAt time.Time       `json:"recorded_at"`
}
