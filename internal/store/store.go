package store

import (
	"errors"
	"fmt"

	"binance-grid-bot-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrGridActive is returned when a grid launch is attempted for a symbol
// whose allocation is already active.
var ErrGridActive = errors.New("grid already active for symbol")

// Store wraps all database access behind short-lived, per-operation
// transactions. Nothing here holds the connection across network I/O or
// sleeps, so the operator surface and the reinvestment monitor never
// serialize behind each other.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on top of an open gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SetCapital creates or replaces the capital allocation for a symbol.
// The activation flag is left untouched on update so an operator tweaking
// the amount cannot accidentally re-arm an active grid.
func (s *Store) SetCapital(symbol string, amount, minPrice, maxPrice float64) error {
	alloc := models.CapitalAllocation{
		Symbol:   symbol,
		Amount:   amount,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "min_price", "max_price", "updated_at"}),
	}).Create(&alloc).Error
	if err != nil {
		return fmt.Errorf("failed to set capital for %s: %w", symbol, err)
	}
	return nil
}

// ListCapital returns every capital allocation, ordered by symbol.
func (s *Store) ListCapital() ([]models.CapitalAllocation, error) {
	var allocations []models.CapitalAllocation
	if err := s.db.Order("symbol asc").Find(&allocations).Error; err != nil {
		return nil, fmt.Errorf("failed to list capital allocations: %w", err)
	}
	return allocations, nil
}

// GetCapital returns the allocation for one symbol.
func (s *Store) GetCapital(symbol string) (*models.CapitalAllocation, error) {
	var alloc models.CapitalAllocation
	if err := s.db.First(&alloc, "symbol = ?", symbol).Error; err != nil {
		return nil, fmt.Errorf("failed to get capital for %s: %w", symbol, err)
	}
	return &alloc, nil
}

// ActiveCapital returns the allocations with a running grid.
func (s *Store) ActiveCapital() ([]models.CapitalAllocation, error) {
	var allocations []models.CapitalAllocation
	if err := s.db.Where("is_active = ?", true).Order("symbol asc").Find(&allocations).Error; err != nil {
		return nil, fmt.Errorf("failed to list active capital allocations: %w", err)
	}
	return allocations, nil
}

// ActivateCapital flips is_active false->true for a symbol as a single
// atomic update. Launching twice races on the row, not on an in-process
// flag: the second caller sees zero affected rows and gets ErrGridActive.
func (s *Store) ActivateCapital(symbol string) error {
	res := s.db.Model(&models.CapitalAllocation{}).
		Where("symbol = ? AND is_active = ?", symbol, false).
		Update("is_active", true)
	if res.Error != nil {
		return fmt.Errorf("failed to activate capital for %s: %w", symbol, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either no allocation exists or the grid is already running.
		var count int64
		if err := s.db.Model(&models.CapitalAllocation{}).Where("symbol = ?", symbol).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check capital for %s: %w", symbol, err)
		}
		if count == 0 {
			return fmt.Errorf("no capital allocation found for %s", symbol)
		}
		return ErrGridActive
	}
	return nil
}

// DeactivateCapital releases the grid slot for a symbol.
func (s *Store) DeactivateCapital(symbol string) error {
	err := s.db.Model(&models.CapitalAllocation{}).
		Where("symbol = ?", symbol).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate capital for %s: %w", symbol, err)
	}
	return nil
}

// AddCapitalProfit increases the allocation amount by the realized profit
// of a recycled fill.
func (s *Store) AddCapitalProfit(symbol string, profit float64) error {
	err := s.db.Model(&models.CapitalAllocation{}).
		Where("symbol = ?", symbol).
		Update("amount", gorm.Expr("amount + ?", profit)).Error
	if err != nil {
		return fmt.Errorf("failed to update capital amount for %s: %w", symbol, err)
	}
	return nil
}

// InsertTrade appends one row to the order ledger. The unique index on
// order_id rejects duplicates.
func (s *Store) InsertTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to insert trade for order %d: %w", trade.OrderID, err)
	}
	return nil
}

// ListTrades returns the trade ledger, most recent first.
func (s *Store) ListTrades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Order("timestamp desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// FillProcessed reports whether the fill of the given order has already
// been recycled. A fill counts as processed once its ledger row carries a
// recorded profit; a submitted-but-unprocessed sell has profit NULL.
func (s *Store) FillProcessed(orderID int64) (bool, error) {
	var count int64
	err := s.db.Model(&models.Trade{}).
		Where("order_id = ? AND profit IS NOT NULL", orderID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check fill state for order %d: %w", orderID, err)
	}
	return count > 0, nil
}

// MarkFillProcessed records the realized profit on the fill's ledger row,
// creating a marker row when the order was placed outside the engine.
func (s *Store) MarkFillProcessed(order *models.Trade, profit float64) error {
	res := s.db.Model(&models.Trade{}).
		Where("order_id = ?", order.OrderID).
		Update("profit", profit)
	if res.Error != nil {
		return fmt.Errorf("failed to mark fill processed for order %d: %w", order.OrderID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	marker := *order
	marker.Profit = &profit
	if err := s.db.Create(&marker).Error; err != nil {
		return fmt.Errorf("failed to insert fill marker for order %d: %w", order.OrderID, err)
	}
	return nil
}

// ReplaceOpenOrders refreshes the open-order mirror in one transaction:
// rows present in the snapshot are inserted if absent, rows missing from
// it are deleted. The table always reflects the latest fetch.
func (s *Store) ReplaceOpenOrders(orders []models.MirroredOrder) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(orders))
		for i := range orders {
			order := orders[i]
			ids = append(ids, order.OrderID)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}},
				DoNothing: true,
			}).Create(&order).Error
			if err != nil {
				return fmt.Errorf("failed to upsert mirrored order %d: %w", order.OrderID, err)
			}
		}

		prune := tx.Unscoped()
		if len(ids) > 0 {
			prune = prune.Where("order_id NOT IN ?", ids)
		} else {
			prune = prune.Where("1 = 1")
		}
		if err := prune.Delete(&models.MirroredOrder{}).Error; err != nil {
			return fmt.Errorf("failed to prune stale mirrored orders: %w", err)
		}
		return nil
	})
}

// ListOrders returns the mirrored open orders, most recent first.
func (s *Store) ListOrders() ([]models.MirroredOrder, error) {
	var orders []models.MirroredOrder
	if err := s.db.Order("timestamp desc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list mirrored orders: %w", err)
	}
	return orders, nil
}
