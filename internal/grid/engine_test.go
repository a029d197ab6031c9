package grid

import (
	"context"
	"errors"
	"testing"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func setupEngine(t *testing.T) (*store.Store, *MockRestClient, *Engine) {
	st, mockClient, coord := setupTest(t)
	cfg := &config.Config{Strategy: *testStrategy()}
	engine := NewEngine(zap.NewNop(), cfg, mockClient, st, coord)
	return st, mockClient, engine
}

func TestLaunchGrid_EndToEnd(t *testing.T) {
	st, mockClient, engine := setupEngine(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))

	mockClient.On("GetPrice", "LTCUSDC").Return(80.0, nil)
	mockClient.On("GetLotSize", "LTCUSDC").Return(binance.LotSize{MinQty: 0.01, StepSize: 0.01}, nil)

	// Three initial market buys of 0.12 at the reference price.
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(1), nil).Once()
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(2), nil).Once()
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(3), nil).Once()

	// The balance guard clears each dependent sell.
	mockClient.On("GetBalance", "LTC").Return(binance.Balance{Free: 0.36}, nil)

	// Paired sells at +5%/+10%/+15%; 0.12 fee-adjusted and floored.
	mockClient.On("PlaceOrder", "LTCUSDC", "SELL", "LIMIT", qty(0.11), 84.0).
		Return(int64(4), nil)
	mockClient.On("PlaceOrder", "LTCUSDC", "SELL", "LIMIT", qty(0.11), 88.0).
		Return(int64(5), nil)
	mockClient.On("PlaceOrder", "LTCUSDC", "SELL", "LIMIT", qty(0.11), 92.0).
		Return(int64(6), nil)

	// Standalone rebuys at -5%/-10%.
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "LIMIT", qty(0.13), 76.0).
		Return(int64(7), nil)
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "LIMIT", qty(0.13), 72.0).
		Return(int64(8), nil)

	assert.NoError(t, engine.LaunchGrid(context.Background(), "LTCUSDC"))
	mockClient.AssertExpectations(t)

	// One ledger row per accepted order.
	trades, err := st.ListTrades()
	assert.NoError(t, err)
	assert.Len(t, trades, 8)

	// The allocation is claimed.
	alloc, err := st.GetCapital("LTCUSDC")
	assert.NoError(t, err)
	assert.True(t, alloc.IsActive)
}

func TestLaunchGrid_SecondLaunchRefused(t *testing.T) {
	st, mockClient, engine := setupEngine(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))
	assert.NoError(t, st.ActivateCapital("LTCUSDC"))

	err := engine.LaunchGrid(context.Background(), "LTCUSDC")
	assert.ErrorIs(t, err, store.ErrGridActive)
	mockClient.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLaunchGrid_NoAllocation(t *testing.T) {
	_, mockClient, engine := setupEngine(t)

	err := engine.LaunchGrid(context.Background(), "LTCUSDC")
	assert.Error(t, err)
	mockClient.AssertNotCalled(t, "GetPrice", mock.Anything)
}

func TestLaunchGrid_PriceFetchFailureReleasesAllocation(t *testing.T) {
	st, mockClient, engine := setupEngine(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))

	mockClient.On("GetPrice", "LTCUSDC").Return(0.0, errors.New("API down"))

	err := engine.LaunchGrid(context.Background(), "LTCUSDC")
	assert.Error(t, err)

	// The slot is released so the operator can retry.
	alloc, gerr := st.GetCapital("LTCUSDC")
	assert.NoError(t, gerr)
	assert.False(t, alloc.IsActive)
}

func TestLaunchGrid_LotSizeLookupFailureUsesDegradedDefault(t *testing.T) {
	st, mockClient, engine := setupEngine(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))

	mockClient.On("GetPrice", "LTCUSDC").Return(80.0, nil)
	mockClient.On("GetLotSize", "LTCUSDC").Return(binance.LotSize{}, errors.New("filter missing"))

	// The default (0.01, 0.01) produces the same ladder as the real filter.
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(1), nil).Times(3)
	mockClient.On("GetBalance", "LTC").Return(binance.Balance{Free: 0.36}, nil)
	mockClient.On("PlaceOrder", "LTCUSDC", "SELL", "LIMIT", qty(0.11), mock.Anything).
		Return(int64(4), nil).Times(3)
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "LIMIT", qty(0.13), mock.Anything).
		Return(int64(7), nil).Times(2)

	assert.NoError(t, engine.LaunchGrid(context.Background(), "LTCUSDC"))
	mockClient.AssertExpectations(t)
}

func TestLaunchGrid_FailedInitialBuySkipsSellLadder(t *testing.T) {
	st, mockClient, engine := setupEngine(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))

	mockClient.On("GetPrice", "LTCUSDC").Return(80.0, nil)
	mockClient.On("GetLotSize", "LTCUSDC").Return(binance.LotSize{MinQty: 0.01, StepSize: 0.01}, nil)

	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(1), nil).Once()
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(0), errors.New("exchange rejected")).Once()
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "MARKET", qty(0.12), 80.0).
		Return(int64(2), nil).Once()

	// Rebuys still go out; no sells do.
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "LIMIT", qty(0.13), 76.0).
		Return(int64(7), nil)
	mockClient.On("PlaceOrder", "LTCUSDC", "BUY", "LIMIT", qty(0.13), 72.0).
		Return(int64(8), nil)

	assert.NoError(t, engine.LaunchGrid(context.Background(), "LTCUSDC"))
	mockClient.AssertExpectations(t)
	mockClient.AssertNotCalled(t, "PlaceOrder", "LTCUSDC", "SELL", mock.Anything, mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "GetBalance", mock.Anything)
}
