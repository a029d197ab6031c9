package models

import "gorm.io/gorm"

// Trade is one row of the append-only order ledger. A row exists only for
// orders the exchange actually accepted; OrderID is the exchange-assigned
// id and is unique. Profit stays NULL until the reinvestment monitor
// processes the fill of a sell order.
type Trade struct {
	gorm.Model
	Symbol    string   `gorm:"index" json:"symbol"`
	Type      string   `json:"type"` // "BUY" or "SELL"
	Price     float64  `json:"price"`
	Quantity  float64  `json:"quantity"`
	Timestamp int64    `gorm:"index" json:"timestamp"`
	Profit    *float64 `json:"profit,omitempty"`
	OrderID   int64    `gorm:"uniqueIndex;not null" json:"order_id"`
}
