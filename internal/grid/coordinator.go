package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/models"
	"binance-grid-bot-go/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrQuantityBelowMinimum marks a rung whose normalized quantity is
	// not tradable. No network call is made for such a rung.
	ErrQuantityBelowMinimum = errors.New("quantity below minimum lot size")

	// ErrBalanceNotSettled marks a sell whose required base-asset balance
	// never became available within the guard's retry budget.
	ErrBalanceNotSettled = errors.New("balance not settled, sell aborted")
)

// Coordinator sequences each ladder rung against the exchange gateway:
// fee adjustment, quantity normalization, minimum-quantity check, balance
// guard for sells, order placement, and ledger persistence.
type Coordinator struct {
	logger      *zap.Logger
	cfg         *config.Strategy
	client      binance.RestClientInterface
	store       *store.Store
	quoteAssets []string

	balanceRetries int
	balancePoll    time.Duration
}

// NewCoordinator creates a Coordinator with the balance-guard policy taken
// from the strategy configuration.
func NewCoordinator(logger *zap.Logger, cfg *config.Strategy, client binance.RestClientInterface, st *store.Store) *Coordinator {
	return &Coordinator{
		logger:         logger,
		cfg:            cfg,
		client:         client,
		store:          st,
		quoteAssets:    cfg.QuoteAssets,
		balanceRetries: cfg.BalanceRetries,
		balancePoll:    time.Duration(cfg.BalancePollInterval) * time.Second,
	}
}

// AwaitBalance polls the free balance of an asset until it reaches
// minRequired, retrying up to the configured attempt budget with a fixed
// sleep between polls. A market buy's fill and the balance settling are
// not synchronous with the HTTP response; this is a bounded barrier, not
// a blocking wait.
func (c *Coordinator) AwaitBalance(ctx context.Context, asset string, minRequired float64) bool {
	for attempt := 1; attempt <= c.balanceRetries; attempt++ {
		select {
		case <-time.After(c.balancePoll):
		case <-ctx.Done():
			return false
		}

		balance, err := c.client.GetBalance(asset)
		if err != nil {
			c.logger.Warn("Balance poll failed",
				zap.String("asset", asset),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		c.logger.Debug("Checked balance",
			zap.String("asset", asset),
			zap.Float64("free", balance.Free),
			zap.Float64("required", minRequired),
			zap.Int("attempt", attempt),
		)

		if balance.Free >= minRequired {
			return true
		}
	}
	return false
}

// Submit runs one order through the full sequencing pipeline and returns
// the exchange-assigned order id. Exactly one Trade row is written per
// accepted order; every failure path writes zero rows.
func (c *Coordinator) Submit(ctx context.Context, req OrderRequest, lot binance.LotSize) (int64, error) {
	quantity := req.Quantity
	if req.Side == binance.OrderSideSell {
		quantity = ApplySellFee(quantity, c.cfg.FeeRate)
	}

	quantity, err := NormalizeQuantity(quantity, lot.StepSize)
	if err != nil {
		return 0, err
	}
	if quantity < lot.MinQty {
		c.logger.Warn("Skipping order below minimum lot size",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.Float64("price", req.Price),
			zap.Float64("quantity", quantity),
			zap.Float64("min_qty", lot.MinQty),
		)
		return 0, ErrQuantityBelowMinimum
	}

	if req.Side == binance.OrderSideSell {
		asset := binance.BaseAsset(req.Symbol, c.quoteAssets)
		if !c.AwaitBalance(ctx, asset, quantity) {
			c.logger.Error("Insufficient balance for sell, aborting rung",
				zap.String("symbol", req.Symbol),
				zap.String("asset", asset),
				zap.Float64("required", quantity),
			)
			return 0, ErrBalanceNotSettled
		}
	}

	orderType := binance.OrderTypeLimit
	if req.Market {
		orderType = binance.OrderTypeMarket
	}

	orderID, err := c.client.PlaceOrder(req.Symbol, req.Side, orderType, quantity, req.Price)
	if err != nil {
		return 0, fmt.Errorf("order submission failed for %s %s: %w", req.Side, req.Symbol, err)
	}

	trade := &models.Trade{
		Symbol:    req.Symbol,
		Type:      req.Side,
		Price:     req.Price,
		Quantity:  quantity,
		Timestamp: time.Now().Unix(),
		OrderID:   orderID,
	}
	if err := c.store.InsertTrade(trade); err != nil {
		// The exchange accepted the order but the ledger missed it: the
		// local state now diverges from the exchange. Surface loudly and
		// let the caller continue with the next rung.
		c.logger.Error("STATE DIVERGENCE: order accepted by exchange but not recorded",
			zap.Int64("order_id", orderID),
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.Error(err),
		)
		return orderID, fmt.Errorf("order %d accepted but not recorded: %w", orderID, err)
	}

	return orderID, nil
}
