package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/models"
	"binance-grid-bot-go/internal/store"
	"go.uber.org/zap"
)

// APIServer is the thin HTTP operator surface: capital management, grid
// launches and read-only views of the ledger and the order mirror. It is
// a dispatch wrapper around the store and the engine, nothing more.
type APIServer struct {
	server    *http.Server
	engine    *Engine
	store     *store.Store
	client    binance.RestClientInterface
	logger    *zap.Logger
	startTime time.Time
}

// NewAPIServer creates a new APIServer listening on the given port.
func NewAPIServer(port int, engine *Engine, st *store.Store, client binance.RestClientInterface, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine:    engine,
		store:     st,
		client:    client,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/capital", s.capitalHandler)
	mux.HandleFunc("/grid/launch", s.launchHandler)
	mux.HandleFunc("/trades", s.tradesHandler)
	mux.HandleFunc("/orders", s.ordersHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ActiveCapital()
	if err != nil {
		s.logger.Error("Failed to get active grids", zap.Error(err))
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	symbols := make([]string, 0, len(active))
	for _, a := range active {
		symbols = append(symbols, a.Symbol)
	}

	s.writeJSON(w, struct {
		StartTime   string   `json:"start_time"`
		Uptime      string   `json:"uptime"`
		ActiveGrids []string `json:"active_grids"`
	}{
		StartTime:   s.startTime.Format(time.RFC3339),
		Uptime:      time.Since(s.startTime).String(),
		ActiveGrids: symbols,
	})
}

// capitalRequest is the POST /capital payload.
type capitalRequest struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
}

func (s *APIServer) capitalHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		allocations, err := s.store.ListCapital()
		if err != nil {
			s.logger.Error("Failed to list capital", zap.Error(err))
			http.Error(w, "Failed to list capital", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, allocations)

	case http.MethodPost:
		var req capitalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Symbol == "" || req.Amount <= 0 {
			http.Error(w, "symbol and a positive amount are required", http.StatusBadRequest)
			return
		}
		if err := s.store.SetCapital(req.Symbol, req.Amount, req.MinPrice, req.MaxPrice); err != nil {
			s.logger.Error("Failed to set capital", zap.String("symbol", req.Symbol), zap.Error(err))
			http.Error(w, "Failed to set capital", http.StatusInternalServerError)
			return
		}
		s.logger.Info("Capital allocation set",
			zap.String("symbol", req.Symbol),
			zap.Float64("amount", req.Amount),
		)
		w.WriteHeader(http.StatusCreated)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// launchRequest is the POST /grid/launch payload.
type launchRequest struct {
	Symbol string `json:"symbol"`
}

func (s *APIServer) launchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.LaunchGrid(r.Context(), req.Symbol); err != nil {
		if errors.Is(err, store.ErrGridActive) {
			http.Error(w, fmt.Sprintf("grid already running for %s", req.Symbol), http.StatusConflict)
			return
		}
		s.logger.Error("Grid launch failed", zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, "Grid launch failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "grid launched for %s\n", req.Symbol)
}

func (s *APIServer) tradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades()
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

// ordersHandler refreshes the open-order mirror from the exchange before
// returning it, so the operator always sees the latest snapshot. When the
// exchange is unreachable the stale mirror is served instead.
func (s *APIServer) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if orders, err := s.client.GetOpenOrders(); err != nil {
		s.logger.Warn("Open-order refresh failed, serving stale mirror", zap.Error(err))
	} else {
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
		if err := s.store.ReplaceOpenOrders(mirrored); err != nil {
			s.logger.Error("Failed to refresh order mirror", zap.Error(err))
		}
	}

	orders, err := s.store.ListOrders()
	if err != nil {
		s.logger.Error("Failed to list mirrored orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, orders)
}
