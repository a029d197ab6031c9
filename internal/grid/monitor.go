package grid

import (
	"context"
	"time"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/models"
	"binance-grid-bot-go/internal/store"
	"go.uber.org/zap"
)

// Monitor is the reinvestment loop. It periodically discovers filled sell
// orders for every active grid and recycles the proceeds into a fresh
// buy/sell pair through the coordinator. The loop runs until its context
// is cancelled; the fixed sweep interval is the only backpressure against
// exchange rate limits.
type Monitor struct {
	logger *zap.Logger
	cfg    *config.Config
	client binance.RestClientInterface
	store  *store.Store
	coord  *Coordinator
	engine *Engine
}

// NewMonitor creates a reinvestment monitor.
func NewMonitor(logger *zap.Logger, cfg *config.Config, client binance.RestClientInterface, st *store.Store, coord *Coordinator, engine *Engine) *Monitor {
	return &Monitor{
		logger: logger,
		cfg:    cfg,
		client: client,
		store:  st,
		coord:  coord,
		engine: engine,
	}
}

// Run starts the monitor's sweep loop and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.Strategy.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Starting reinvestment monitor", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping reinvestment monitor...")
			return
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				m.logger.Error("Monitor sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep is one Polling+Processing pass: refresh the open-order mirror,
// then find and recycle unprocessed filled sells for every active symbol.
// A single-order failure is logged and skipped; it never aborts the rest
// of the batch.
func (m *Monitor) sweep(ctx context.Context) error {
	m.refreshOrderMirror()

	active, err := m.store.ActiveCapital()
	if err != nil {
		return err
	}
	if len(active) == 0 {
		m.logger.Debug("No active grids, nothing to monitor")
		return nil
	}

	for _, alloc := range active {
		fills, err := m.filledSells(alloc.Symbol)
		if err != nil {
			m.logger.Error("Could not fetch order history",
				zap.String("symbol", alloc.Symbol), zap.Error(err))
			continue
		}

		for _, fill := range fills {
			processed, err := m.store.FillProcessed(fill.OrderID)
			if err != nil {
				m.logger.Error("Dedup check failed",
					zap.Int64("order_id", fill.OrderID), zap.Error(err))
				continue
			}
			if processed {
				continue
			}

			if err := m.reinvest(ctx, fill); err != nil {
				m.logger.Warn("Reinvestment skipped",
					zap.String("symbol", fill.Symbol),
					zap.Int64("order_id", fill.OrderID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// refreshOrderMirror replaces the open-order snapshot with the latest
// fetch. A failed fetch keeps the previous snapshot.
func (m *Monitor) refreshOrderMirror() {
	orders, err := m.client.GetOpenOrders()
	if err != nil {
		m.logger.Warn("Open-order fetch failed, keeping previous mirror", zap.Error(err))
		return
	}

	mirrored := make([]models.MirroredOrder, 0, len(orders))
	for _, o := range orders {
		mirrored = append(mirrored, models.MirroredOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Price:     o.Price,
			StopPrice: o.StopPrice,
			Quantity:  o.OrigQty,
			Type:      o.Type,
			Status:    o.Status,
			Timestamp: o.Time,
		})
	}

	if err := m.store.ReplaceOpenOrders(mirrored); err != nil {
		m.logger.Error("Failed to refresh order mirror", zap.Error(err))
	}
}

// filledSells returns the symbol's filled sell orders from the full order
// history. The open-order list can never contain a FILLED row, so the
// history endpoint is the one that matters here.
func (m *Monitor) filledSells(symbol string) ([]binance.Order, error) {
	orders, err := m.client.GetAllOrders(symbol)
	if err != nil {
		return nil, err
	}

	var fills []binance.Order
	for _, o := range orders {
		if o.Status == binance.OrderStatusFilled && o.Side == binance.OrderSideSell {
			fills = append(fills, o)
		}
	}
	return fills, nil
}

// reinvest recycles one filled sell: it marks the fill processed with its
// realized profit, places a discounted rebuy for the grown capital and a
// paired resell above it, and credits the profit to the symbol's capital
// allocation.
func (m *Monitor) reinvest(ctx context.Context, fill binance.Order) error {
	strat := &m.cfg.Strategy

	proceeds := fill.Price * fill.OrigQty
	profit := proceeds * (1 + strat.ReinvestMargin)
	reinvestCapital := proceeds + profit
	reinvestPrice := fill.Price * (1 - strat.RebuyDiscount)

	lot := m.engine.lotSizeOrDefault(fill.Symbol)

	quantity, err := NormalizeQuantity(reinvestCapital/reinvestPrice, lot.StepSize)
	if err != nil {
		return err
	}
	if quantity < lot.MinQty {
		m.logger.Warn("Reinvestment quantity below minimum lot size, skipping fill",
			zap.String("symbol", fill.Symbol),
			zap.Int64("order_id", fill.OrderID),
			zap.Float64("quantity", quantity),
			zap.Float64("min_qty", lot.MinQty),
		)
		return ErrQuantityBelowMinimum
	}

	m.logger.Info("Recycling filled sell",
		zap.String("symbol", fill.Symbol),
		zap.Int64("order_id", fill.OrderID),
		zap.Float64("sell_price", fill.Price),
		zap.Float64("profit", profit),
		zap.Float64("reinvest_capital", reinvestCapital),
		zap.Float64("reinvest_price", reinvestPrice),
	)

	buyID, err := m.coord.Submit(ctx, OrderRequest{
		Symbol:   fill.Symbol,
		Side:     binance.OrderSideBuy,
		Price:    reinvestPrice,
		Quantity: quantity,
	}, lot)
	if err != nil {
		return err
	}

	// The rebuy is live: the fill is now processed no matter how the rest
	// of this pass goes, otherwise the next sweep would buy again.
	fillRow := &models.Trade{
		Symbol:    fill.Symbol,
		Type:      binance.OrderSideSell,
		Price:     fill.Price,
		Quantity:  fill.OrigQty,
		Timestamp: time.Now().Unix(),
		OrderID:   fill.OrderID,
	}
	if err := m.store.MarkFillProcessed(fillRow, profit); err != nil {
		m.logger.Error("STATE DIVERGENCE: reinvestment placed but fill not marked processed",
			zap.Int64("fill_order_id", fill.OrderID),
			zap.Int64("rebuy_order_id", buyID),
			zap.Error(err),
		)
		return err
	}

	if err := m.store.AddCapitalProfit(fill.Symbol, profit); err != nil {
		m.logger.Error("Failed to credit recycled profit to allocation",
			zap.String("symbol", fill.Symbol), zap.Error(err))
	}

	resellPrice := reinvestPrice * (1 + strat.ResellMarkup)
	if _, err := m.coord.Submit(ctx, OrderRequest{
		Symbol:   fill.Symbol,
		Side:     binance.OrderSideSell,
		Price:    resellPrice,
		Quantity: quantity,
	}, lot); err != nil {
		m.logger.Warn("Paired resell failed, rebuy remains open",
			zap.String("symbol", fill.Symbol),
			zap.Int64("rebuy_order_id", buyID),
			zap.Error(err),
		)
	}

	return nil
}
