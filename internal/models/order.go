package models

import "gorm.io/gorm"

// MirroredOrder is a snapshot of one of the exchange's live open orders.
// The whole table is replaced (upsert + prune) on every refresh; it is a
// mirror of the exchange state, not an event log.
type MirroredOrder struct {
	gorm.Model
	OrderID   int64   `gorm:"uniqueIndex;not null" json:"order_id"`
	Symbol    string  `gorm:"index" json:"symbol"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price"`
	Quantity  float64 `json:"quantity"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}
