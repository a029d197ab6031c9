package grid

import (
	"fmt"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"go.uber.org/zap"
)

// OrderRequest is one rung of a ladder, ready for submission.
type OrderRequest struct {
	Symbol   string
	Side     string
	Price    float64
	Quantity float64
	Market   bool
}

// Ladder is the fixed-shape order set built around a reference price:
// k initial buys at the current price, one paired sell per initial buy at
// increasing positive offsets, and standalone rebuy orders below the
// current price.
type Ladder struct {
	InitialBuys []OrderRequest
	PairedSells []OrderRequest
	RebuyOrders []OrderRequest
}

// BuildLadder constructs the ladder for a symbol. Offsets and counts are
// strategy parameters; the allocation's min/max price bounds are recorded
// but do not shape the ladder. Rebuy rungs whose normalized quantity falls
// below the minimum tradable quantity are skipped outright, not retried or
// substituted.
func BuildLadder(logger *zap.Logger, strat *config.Strategy, symbol string, currentPrice float64, lot binance.LotSize) (*Ladder, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("invalid current price %f for %s", currentPrice, symbol)
	}
	if len(strat.SellOffsets) < strat.InitialOrders {
		return nil, fmt.Errorf("need %d sell offsets for %d initial orders, have %d",
			strat.InitialOrders, strat.InitialOrders, len(strat.SellOffsets))
	}

	ladder := &Ladder{}

	// The initial rungs are not min-checked here: the coordinator rejects
	// any below-minimum rung before it touches the network, and the
	// launch path reports the skip per rung.
	buyQuantity, err := NormalizeQuantity(strat.OrderNotional/currentPrice, lot.StepSize)
	if err != nil {
		return nil, err
	}

	for i := 0; i < strat.InitialOrders; i++ {
		ladder.InitialBuys = append(ladder.InitialBuys, OrderRequest{
			Symbol:   symbol,
			Side:     binance.OrderSideBuy,
			Price:    currentPrice,
			Quantity: buyQuantity,
			Market:   true,
		})
		// The paired sell carries the same quantity as its buy; the fee
		// adjustment happens at submission because it is sell-side.
		ladder.PairedSells = append(ladder.PairedSells, OrderRequest{
			Symbol:   symbol,
			Side:     binance.OrderSideSell,
			Price:    currentPrice * (1 + strat.SellOffsets[i]),
			Quantity: buyQuantity,
		})
	}

	for _, offset := range strat.BuyOffsets {
		buyPrice := currentPrice * (1 + offset)
		quantity, err := NormalizeQuantity(strat.OrderNotional/buyPrice, lot.StepSize)
		if err != nil {
			return nil, err
		}
		if quantity < lot.MinQty {
			logger.Warn("Skipping rebuy rung below minimum lot size",
				zap.String("symbol", symbol),
				zap.Float64("price", buyPrice),
				zap.Float64("quantity", quantity),
				zap.Float64("min_qty", lot.MinQty),
			)
			continue
		}
		ladder.RebuyOrders = append(ladder.RebuyOrders, OrderRequest{
			Symbol:   symbol,
			Side:     binance.OrderSideBuy,
			Price:    buyPrice,
			Quantity: quantity,
		})
	}

	return ladder, nil
}
