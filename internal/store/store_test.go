package store

import (
	"testing"

	"binance-grid-bot-go/internal/database"
	"binance-grid-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, database.AutoMigrate(db))
	return NewStore(db)
}

func TestSetCapital_UpsertKeepsActivation(t *testing.T) {
	st := setupStore(t)

	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))
	assert.NoError(t, st.ActivateCapital("LTCUSDC"))

	// The operator adjusting the amount must not re-arm the grid slot.
	assert.NoError(t, st.SetCapital("LTCUSDC", 250, 40, 160))

	alloc, err := st.GetCapital("LTCUSDC")
	assert.NoError(t, err)
	assert.Equal(t, 250.0, alloc.Amount)
	assert.Equal(t, 40.0, alloc.MinPrice)
	assert.True(t, alloc.IsActive)

	// Still one row per symbol.
	allocations, err := st.ListCapital()
	assert.NoError(t, err)
	assert.Len(t, allocations, 1)
}

func TestActivateCapital_CompareAndSet(t *testing.T) {
	st := setupStore(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 50, 150))

	assert.NoError(t, st.ActivateCapital("LTCUSDC"))

	// The second activation loses the race on the row.
	err := st.ActivateCapital("LTCUSDC")
	assert.ErrorIs(t, err, ErrGridActive)

	assert.NoError(t, st.DeactivateCapital("LTCUSDC"))
	assert.NoError(t, st.ActivateCapital("LTCUSDC"))
}

func TestActivateCapital_UnknownSymbol(t *testing.T) {
	st := setupStore(t)

	err := st.ActivateCapital("DOGEUSDT")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrGridActive)
}

func TestActiveCapital_FiltersInactive(t *testing.T) {
	st := setupStore(t)
	assert.NoError(t, st.SetCapital("BTCUSDT", 100, 0, 0))
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 0, 0))
	assert.NoError(t, st.ActivateCapital("LTCUSDC"))

	active, err := st.ActiveCapital()
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "LTCUSDC", active[0].Symbol)
}

func TestAddCapitalProfit(t *testing.T) {
	st := setupStore(t)
	assert.NoError(t, st.SetCapital("LTCUSDC", 100, 0, 0))

	assert.NoError(t, st.AddCapitalProfit("LTCUSDC", 10.5))
	assert.NoError(t, st.AddCapitalProfit("LTCUSDC", 2.0))

	alloc, err := st.GetCapital("LTCUSDC")
	assert.NoError(t, err)
	assert.InDelta(t, 112.5, alloc.Amount, 1e-9)
}

func TestInsertTrade_DuplicateOrderIDRejected(t *testing.T) {
	st := setupStore(t)

	assert.NoError(t, st.InsertTrade(&models.Trade{Symbol: "LTCUSDC", Type: "BUY", OrderID: 42}))
	err := st.InsertTrade(&models.Trade{Symbol: "LTCUSDC", Type: "SELL", OrderID: 42})
	assert.Error(t, err)

	trades, err := st.ListTrades()
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestFillProcessed_Lifecycle(t *testing.T) {
	st := setupStore(t)

	// Absent order: not processed.
	processed, err := st.FillProcessed(42)
	assert.NoError(t, err)
	assert.False(t, processed)

	// Submitted but not recycled: profit NULL, still not processed.
	assert.NoError(t, st.InsertTrade(&models.Trade{Symbol: "LTCUSDC", Type: "SELL", OrderID: 42}))
	processed, err = st.FillProcessed(42)
	assert.NoError(t, err)
	assert.False(t, processed)

	// Recycled: the existing row gets the profit, no duplicate appears.
	assert.NoError(t, st.MarkFillProcessed(&models.Trade{Symbol: "LTCUSDC", Type: "SELL", OrderID: 42}, 10.5))
	processed, err = st.FillProcessed(42)
	assert.NoError(t, err)
	assert.True(t, processed)

	trades, err := st.ListTrades()
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.NotNil(t, trades[0].Profit)
	assert.InDelta(t, 10.5, *trades[0].Profit, 1e-9)
}

func TestMarkFillProcessed_InsertsMarkerForForeignOrder(t *testing.T) {
	st := setupStore(t)

	// A fill the engine never submitted (placed manually on the exchange)
	// gets a marker row so it is recycled exactly once.
	assert.NoError(t, st.MarkFillProcessed(&models.Trade{
		Symbol: "LTCUSDC", Type: "SELL", Price: 100, Quantity: 0.1, OrderID: 77,
	}, 10.5))

	processed, err := st.FillProcessed(77)
	assert.NoError(t, err)
	assert.True(t, processed)

	trades, err := st.ListTrades()
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(77), trades[0].OrderID)
}

func TestReplaceOpenOrders_UpsertAndPrune(t *testing.T) {
	st := setupStore(t)

	assert.NoError(t, st.ReplaceOpenOrders([]models.MirroredOrder{
		{OrderID: 1, Symbol: "LTCUSDC", Status: "NEW", Price: 84, Quantity: 0.12},
		{OrderID: 2, Symbol: "LTCUSDC", Status: "NEW", Price: 88, Quantity: 0.12},
	}))

	orders, err := st.ListOrders()
	assert.NoError(t, err)
	assert.Len(t, orders, 2)

	// Order 2 left the exchange's open set; order 3 arrived.
	assert.NoError(t, st.ReplaceOpenOrders([]models.MirroredOrder{
		{OrderID: 1, Symbol: "LTCUSDC", Status: "NEW", Price: 84, Quantity: 0.12},
		{OrderID: 3, Symbol: "LTCUSDC", Status: "NEW", Price: 92, Quantity: 0.12},
	}))

	orders, err = st.ListOrders()
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	ids := map[int64]bool{}
	for _, o := range orders {
		ids[o.OrderID] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[3])
	assert.False(t, ids[2])
}

func TestReplaceOpenOrders_EmptySnapshotClearsMirror(t *testing.T) {
	st := setupStore(t)

	assert.NoError(t, st.ReplaceOpenOrders([]models.MirroredOrder{
		{OrderID: 1, Symbol: "LTCUSDC", Status: "NEW"},
	}))
	assert.NoError(t, st.ReplaceOpenOrders(nil))

	orders, err := st.ListOrders()
	assert.NoError(t, err)
	assert.Empty(t, orders)
}

func TestReplaceOpenOrders_ReinsertAfterPrune(t *testing.T) {
	st := setupStore(t)

	// An order can leave and re-enter the snapshot (e.g. a flaky fetch
	// in between); the unique index must not reject its return.
	snapshot := []models.MirroredOrder{{OrderID: 5, Symbol: "LTCUSDC", Status: "NEW"}}
	assert.NoError(t, st.ReplaceOpenOrders(snapshot))
	assert.NoError(t, st.ReplaceOpenOrders(nil))
	assert.NoError(t, st.ReplaceOpenOrders(snapshot))

	orders, err := st.ListOrders()
	assert.NoError(t, err)
	assert.Len(t, orders, 1)
}
