package models

import "gorm.io/gorm"

// CapitalAllocation is the operator-assigned capital for a trading pair.
// A symbol has at most one row; IsActive flips to true when a grid is
// launched and guards against launching a second grid for the same pair.
type CapitalAllocation struct {
	gorm.Model
	Symbol   string  `gorm:"uniqueIndex;not null" json:"symbol"`
	Amount   float64 `gorm:"not null" json:"amount"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
	IsActive bool    `gorm:"default:false" json:"is_active"`
}
