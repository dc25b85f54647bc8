package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcabot/internal/domain"
	"dcabot/internal/exchange"
)

// Adapter implements the exchange.Gateway interface for Binance Spot.
type Adapter struct {
	client    *Client
	connected atomic.Bool
	logger    *zap.Logger
}

// Ensure Adapter satisfies the gateway contract.
var _ exchange.Gateway = (*Adapter)(nil)

// Config holds configuration for the Binance adapter.
type Config struct {
	// APIKey is the Binance API key.
	APIKey string
	// APISecret is the Binance API secret.
	APISecret string
	// Testnet enables testnet mode.
	Testnet bool
	// RateLimit is the maximum API request weight per minute.
	RateLimit int
	// Logger is the logger instance.
	Logger *zap.Logger
}

// NewAdapter creates a new Binance adapter.
func NewAdapter(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		client: NewClient(ClientConfig{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		}),
		logger: logger,
	}
}

// NewAdapterWithBaseURL creates a new Binance adapter with a custom base URL.
// This is primarily used for testing with mock servers.
func NewAdapterWithBaseURL(baseURL string, cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		client: NewClientWithBaseURL(baseURL, ClientConfig{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		}),
		logger: logger,
	}
}

// Name returns the exchange identifier.
func (a *Adapter) Name() string {
	return "binance"
}

// Connect verifies connectivity to the Binance API.
func (a *Adapter) Connect(ctx context.Context) error {
	// Verify connectivity by fetching server time
	serverTime, err := a.client.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("connect to binance: %w", err)
	}

	drift := time.Since(serverTime)
	if drift < 0 {
		drift = -drift
	}

	a.logger.Info("connected to binance",
		zap.Time("server_time", serverTime),
		zap.Duration("clock_drift", drift))

	if drift > 5*time.Second {
		a.logger.Warn("significant clock drift detected", zap.Duration("drift", drift))
	}

	a.connected.Store(true)
	return nil
}

// Disconnect marks the gateway as disconnected.
func (a *Adapter) Disconnect() error {
	a.connected.Store(false)
	a.logger.Info("disconnected from binance")
	return nil
}

// IsConnected returns true if connected to Binance.
func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// GetSymbolFilter fetches the trading constraints for a symbol.
func (a *Adapter) GetSymbolFilter(ctx context.Context, symbol string) (domain.SymbolFilter, error) {
	if !a.IsConnected() {
		return domain.SymbolFilter{}, exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := a.client.Request(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return domain.SymbolFilter{}, a.mapError(err, symbol)
	}

	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SymbolFilter{}, fmt.Errorf("parse exchange info: %w", err)
	}

	for _, s := range resp.Symbols {
		if s.Symbol == symbol {
			return s.toFilter()
		}
	}
	return domain.SymbolFilter{}, fmt.Errorf("%w: %s", exchange.ErrSymbolNotFound, symbol)
}

// GetAveragePrice fetches the current average price for a symbol.
func (a *Adapter) GetAveragePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if !a.IsConnected() {
		return decimal.Decimal{}, exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := a.client.Request(ctx, http.MethodGet, "/api/v3/avgPrice", params, false)
	if err != nil {
		return decimal.Decimal{}, a.mapError(err, symbol)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse average price: %w", err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse average price %q: %w", resp.Price, err)
	}
	return price, nil
}

// GetAssetBalance returns the free balance of a single asset.
// An asset missing from the account response yields an invalid NullDecimal.
func (a *Adapter) GetAssetBalance(ctx context.Context, asset string) (decimal.NullDecimal, error) {
	if !a.IsConnected() {
		return decimal.NullDecimal{}, exchange.ErrNotConnected
	}

	body, err := a.client.Request(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("get balances: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse account: %w", err)
	}

	for _, b := range resp.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("parse balance %q for %s: %w", b.Free, asset, err)
		}
		return decimal.NullDecimal{Decimal: free, Valid: true}, nil
	}
	return decimal.NullDecimal{}, nil
}

// PlaceLimitBuy submits a good-till-cancelled limit buy order.
func (a *Adapter) PlaceLimitBuy(ctx context.Context, symbol string, price, quantity decimal.Decimal) (domain.Order, error) {
	if !a.IsConnected() {
		return domain.Order{}, exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(domain.OrderSideBuy))
	params.Set("type", string(domain.OrderTypeLimit))
	params.Set("timeInForce", "GTC")
	params.Set("quantity", quantity.String())
	params.Set("price", price.String())
	params.Set("newClientOrderId", uuid.NewString())
	params.Set("newOrderRespType", "RESULT")

	body, err := a.client.Request(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return domain.Order{}, a.mapError(err, symbol)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("parse order response: %w", err)
	}

	return resp.toOrder()
}

// GetOrderStatus retrieves the current state of an order.
func (a *Adapter) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (domain.Order, error) {
	if !a.IsConnected() {
		return domain.Order{}, exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", fmt.Sprintf("%d", orderID))

	body, err := a.client.Request(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return domain.Order{}, a.mapError(err, symbol)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("parse order: %w", err)
	}

	return resp.toOrder()
}

// CancelOrder cancels an open order.
func (a *Adapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if !a.IsConnected() {
		return exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", fmt.Sprintf("%d", orderID))

	if _, err := a.client.Request(ctx, http.MethodDelete, "/api/v3/order", params, true); err != nil {
		return a.mapError(err, symbol)
	}
	return nil
}

// ListOpenOrders returns all currently open orders for a symbol.
func (a *Adapter) ListOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	if !a.IsConnected() {
		return nil, exchange.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := a.client.Request(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, a.mapError(err, symbol)
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(resp))
	for _, r := range resp {
		order, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// mapError maps Binance API errors to sentinel errors.
func (a *Adapter) mapError(err error, symbol string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case -2010: // Insufficient balance / order would be rejected
		return fmt.Errorf("%w: %s", exchange.ErrInsufficientFunds, apiErr.Message)
	case -2011: // Unknown order
		return exchange.ErrOrderNotFound
	case -1121: // Invalid symbol
		return fmt.Errorf("%w: %s", exchange.ErrSymbolNotFound, symbol)
	case -1013: // Filter failure
		return fmt.Errorf("%w: %s", exchange.ErrOrderRejected, apiErr.Message)
	case -1015, -1003: // Too many orders / requests
		return exchange.ErrRateLimitExceeded
	default:
		return fmt.Errorf("binance error for %s: %w", symbol, apiErr)
	}
}

// API response types

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol     string             `json:"symbol"`
	BaseAsset  string             `json:"baseAsset"`
	QuoteAsset string             `json:"quoteAsset"`
	Filters    []symbolFilterInfo `json:"filters"`
}

type symbolFilterInfo struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

func (s symbolInfo) toFilter() (domain.SymbolFilter, error) {
	filter := domain.SymbolFilter{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}

	parse := func(v string) decimal.Decimal {
		d, _ := decimal.NewFromString(v)
		return d
	}

	var havePrice, haveLot bool
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			filter.MinPrice = parse(f.MinPrice)
			filter.MaxPrice = parse(f.MaxPrice)
			filter.TickSize = parse(f.TickSize)
			havePrice = true
		case "LOT_SIZE":
			filter.MinQty = parse(f.MinQty)
			filter.MaxQty = parse(f.MaxQty)
			filter.StepSize = parse(f.StepSize)
			haveLot = true
		case "MIN_NOTIONAL", "NOTIONAL":
			filter.MinNotional = parse(f.MinNotional)
		}
	}

	if !havePrice || !haveLot {
		return domain.SymbolFilter{}, fmt.Errorf("incomplete filters for symbol %s", s.Symbol)
	}
	return filter, nil
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	// TransactTime is set on order placement responses, Time on queries.
	TransactTime int64 `json:"transactTime"`
	Time         int64 `json:"time"`
	UpdateTime   int64 `json:"updateTime"`
}

func (r orderResponse) toOrder() (domain.Order, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse order price %q: %w", r.Price, err)
	}
	origQty, err := decimal.NewFromString(r.OrigQty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse order quantity %q: %w", r.OrigQty, err)
	}
	executedQty, _ := decimal.NewFromString(r.ExecutedQty)
	cumQuoteQty, _ := decimal.NewFromString(r.CumQuoteQty)

	createdAt := r.Time
	if createdAt == 0 {
		createdAt = r.TransactTime
	}
	updatedAt := r.UpdateTime
	if updatedAt == 0 {
		updatedAt = createdAt
	}

	return domain.Order{
		Symbol:        r.Symbol,
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Side:          domain.OrderSide(r.Side),
		Type:          domain.OrderType(r.Type),
		Status:        domain.OrderStatus(r.Status),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		CumQuoteQty:   cumQuoteQty,
		TimeInForce:   r.TimeInForce,
		Time:          createdAt,
		UpdateTime:    updatedAt,
	}, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}
