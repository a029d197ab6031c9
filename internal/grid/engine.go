package grid

import (
	"context"
	"fmt"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/store"
	"go.uber.org/zap"
)

// defaultLotSize is the agreed degraded-mode fallback when the exchange's
// lot-size lookup fails. Using it is always logged at warning level.
var defaultLotSize = binance.LotSize{MinQty: 0.01, StepSize: 0.01}

// Engine launches grids: it claims the symbol's capital allocation,
// builds the order ladder around the current price and drives it through
// the submission coordinator.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config
	client binance.RestClientInterface
	store  *store.Store
	coord  *Coordinator
}

// NewEngine creates a new grid engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, client binance.RestClientInterface, st *store.Store, coord *Coordinator) *Engine {
	return &Engine{
		logger: logger,
		cfg:    cfg,
		client: client,
		store:  st,
		coord:  coord,
	}
}

// lotSizeOrDefault fetches the symbol's LOT_SIZE filter, falling back to
// the documented degraded-mode default when the lookup fails.
func (e *Engine) lotSizeOrDefault(symbol string) binance.LotSize {
	lot, err := e.client.GetLotSize(symbol)
	if err != nil {
		e.logger.Warn("Lot size lookup failed, using degraded-mode default",
			zap.String("symbol", symbol),
			zap.Float64("default_min_qty", defaultLotSize.MinQty),
			zap.Float64("default_step_size", defaultLotSize.StepSize),
			zap.Error(err),
		)
		return defaultLotSize
	}
	return lot
}

// LaunchGrid opens a grid for a symbol: k market buys at the current
// price, one paired limit sell per buy at increasing offsets, and
// standalone limit rebuys below the price. The launch claims the symbol's
// allocation atomically; a second launch while the grid runs is refused.
// Individual rung failures are logged and skipped, they never abort the
// remaining rungs.
func (e *Engine) LaunchGrid(ctx context.Context, symbol string) error {
	if err := e.store.ActivateCapital(symbol); err != nil {
		return err
	}

	l := e.logger.With(zap.String("symbol", symbol))

	currentPrice, err := e.client.GetPrice(symbol)
	if err != nil {
		// Nothing was submitted; release the slot so the operator can retry.
		if derr := e.store.DeactivateCapital(symbol); derr != nil {
			l.Error("Failed to release allocation after price fetch failure", zap.Error(derr))
		}
		return fmt.Errorf("could not fetch price for %s: %w", symbol, err)
	}

	lot := e.lotSizeOrDefault(symbol)

	ladder, err := BuildLadder(l, &e.cfg.Strategy, symbol, currentPrice, lot)
	if err != nil {
		if derr := e.store.DeactivateCapital(symbol); derr != nil {
			l.Error("Failed to release allocation after ladder build failure", zap.Error(derr))
		}
		return fmt.Errorf("could not build ladder for %s: %w", symbol, err)
	}

	l.Info("Launching grid",
		zap.Float64("current_price", currentPrice),
		zap.Int("initial_buys", len(ladder.InitialBuys)),
		zap.Int("paired_sells", len(ladder.PairedSells)),
		zap.Int("rebuy_orders", len(ladder.RebuyOrders)),
	)

	// Phase 1: initial market buys.
	bought := 0
	for _, buy := range ladder.InitialBuys {
		if _, err := e.coord.Submit(ctx, buy, lot); err != nil {
			l.Error("Initial buy failed", zap.Float64("price", buy.Price), zap.Error(err))
			continue
		}
		bought++
	}

	if bought < len(ladder.InitialBuys) {
		l.Warn("Not all initial buys were accepted, skipping sell ladder",
			zap.Int("accepted", bought),
			zap.Int("requested", len(ladder.InitialBuys)),
		)
	} else {
		// Phase 2: paired sells. The coordinator's balance guard waits for
		// each just-bought quantity to settle before the dependent sell.
		for _, sell := range ladder.PairedSells {
			if _, err := e.coord.Submit(ctx, sell, lot); err != nil {
				l.Error("Paired sell failed", zap.Float64("price", sell.Price), zap.Error(err))
			}
		}
	}

	// Phase 3: standalone rebuys below the current price.
	for _, rebuy := range ladder.RebuyOrders {
		if _, err := e.coord.Submit(ctx, rebuy, lot); err != nil {
			l.Error("Rebuy order failed", zap.Float64("price", rebuy.Price), zap.Error(err))
		}
	}

	l.Info("Grid launch complete")
	return nil
}
