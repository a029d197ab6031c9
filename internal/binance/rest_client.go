package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"binance-grid-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"

	OrderStatusFilled = "FILLED"

	timeInForceGTC = "GTC"
)

// RestClientInterface is the exchange gateway capability set the grid
// engine consumes. Everything behind it is signed REST plumbing.
type RestClientInterface interface {
	GetServerTime() (int64, error)
	GetPrice(symbol string) (float64, error)
	GetLotSize(symbol string) (LotSize, error)
	GetBalance(asset string) (Balance, error)
	PlaceOrder(symbol, side, orderType string, quantity, price float64) (int64, error)
	GetOpenOrders() ([]Order, error)
	GetAllOrders(symbol string) ([]Order, error)
}

// LotSize is the LOT_SIZE filter of a symbol: the minimum tradable
// quantity and the quantization step for order quantities.
type LotSize struct {
	MinQty   float64
	StepSize float64
}

// Balance is the free/locked balance of a single asset.
type Balance struct {
	Free   float64
	Locked float64
}

// Order is one order row as reported by the exchange.
type Order struct {
	OrderID     int64
	Symbol      string
	Side        string
	Type        string
	Status      string
	Price       float64
	StopPrice   float64
	OrigQty     float64
	ExecutedQty float64
	Time        int64
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature over the canonical query string.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery stamps the params with a fresh server timestamp and appends
// the signature. The timestamp must come from the exchange, not the local
// clock: a skewed local clock gets the request rejected outright.
func (c *RestClient) signedQuery(params url.Values) (string, error) {
	ts, err := c.GetServerTime()
	if err != nil {
		return "", fmt.Errorf("could not fetch server time for signing: %w", err)
	}
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	return queryString + "&signature=" + c.sign(queryString), nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice fetches the latest price for a single symbol.
func (c *RestClient) GetPrice(symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", result.Price, symbol, err)
	}
	return price, nil
}

// ExchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in the LOT_SIZE filter for minQty and stepSize.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// GetLotSize fetches the LOT_SIZE filter for a symbol from /exchangeInfo.
func (c *RestClient) GetLotSize(symbol string) (LotSize, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return LotSize{}, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	result := resp.Result().(*ExchangeInfoResponse)
	for _, s := range result.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, filter := range s.Filters {
			if filter.FilterType != "LOT_SIZE" {
				continue
			}
			minQty, err1 := strconv.ParseFloat(filter.MinQty, 64)
			stepSize, err2 := strconv.ParseFloat(filter.StepSize, 64)
			if err1 != nil || err2 != nil {
				return LotSize{}, fmt.Errorf("failed to parse LOT_SIZE filter for %s (minQty=%q stepSize=%q)",
					symbol, filter.MinQty, filter.StepSize)
			}
			return LotSize{MinQty: minQty, StepSize: stepSize}, nil
		}
	}

	return LotSize{}, fmt.Errorf("no LOT_SIZE filter found for symbol %s", symbol)
}

// accountResponse is the wire format of the signed /account endpoint.
type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalance fetches the free and locked balance of a single asset.
func (c *RestClient) GetBalance(asset string) (Balance, error) {
	query, err := c.signedQuery(url.Values{})
	if err != nil {
		return Balance{}, err
	}

	var account accountResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&account)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account?"+query, req)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to get account balance: %w", err)
	}

	result := resp.Result().(*accountResponse)
	for _, b := range result.Balances {
		if b.Asset != asset {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		return Balance{Free: free, Locked: locked}, nil
	}

	return Balance{}, fmt.Errorf("asset %s not found in account balances", asset)
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// PlaceOrder places a new order on Binance and returns the exchange-assigned
// order id. MARKET orders carry only a quantity; LIMIT orders carry the
// price and a GTC time-in-force.
func (c *RestClient) PlaceOrder(symbol, side, orderType string, quantity, price float64) (int64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", orderType)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	if orderType == OrderTypeLimit {
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
		params.Set("timeInForce", timeInForceGTC)
	}

	query, err := c.signedQuery(params)
	if err != nil {
		return 0, err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&CreateOrderResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/order?"+query, req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("side", side),
		)
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("type", orderType),
		zap.Int64("order_id", result.OrderID),
	)
	return result.OrderID, nil
}

// wireOrder is the wire format shared by /openOrders and /allOrders rows.
type wireOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	StopPrice   string `json:"stopPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Time        int64  `json:"time"`
}

func (w *wireOrder) toOrder() Order {
	price, _ := strconv.ParseFloat(w.Price, 64)
	stopPrice, _ := strconv.ParseFloat(w.StopPrice, 64)
	origQty, _ := strconv.ParseFloat(w.OrigQty, 64)
	executedQty, _ := strconv.ParseFloat(w.ExecutedQty, 64)
	return Order{
		OrderID:     w.OrderID,
		Symbol:      w.Symbol,
		Side:        w.Side,
		Type:        w.Type,
		Status:      w.Status,
		Price:       price,
		StopPrice:   stopPrice,
		OrigQty:     origQty,
		ExecutedQty: executedQty,
		Time:        w.Time,
	}
}

// GetOpenOrders fetches every live open order on the account.
func (c *RestClient) GetOpenOrders() ([]Order, error) {
	return c.fetchOrders("/openOrders", url.Values{})
}

// GetAllOrders fetches the full order history for a symbol, including
// filled and cancelled orders. The endpoint requires a symbol.
func (c *RestClient) GetAllOrders(symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.fetchOrders("/allOrders", params)
}

func (c *RestClient) fetchOrders(endpoint string, params url.Values) ([]Order, error) {
	query, err := c.signedQuery(params)
	if err != nil {
		return nil, err
	}

	var wire []*wireOrder
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&wire)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", endpoint+"?"+query, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders from %s: %w", endpoint, err)
	}

	result := resp.Result().(*[]*wireOrder)
	orders := make([]Order, 0, len(*result))
	for _, w := range *result {
		orders = append(orders, w.toOrder())
	}
	return orders, nil
}
