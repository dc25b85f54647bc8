package binance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/exchange/binance"
)

const serverTimeBody = `{"serverTime": 1635768000000}`

// newTestAdapter starts a mock API server, points an adapter at it and
// connects. The handler serves everything except /api/v3/time.
func newTestAdapter(t *testing.T, handler http.HandlerFunc) *binance.Adapter {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			w.Write([]byte(serverTimeBody))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	adapter := binance.NewAdapterWithBaseURL(srv.URL, binance.Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
	})
	require.NoError(t, adapter.Connect(context.Background()))
	return adapter
}

func TestAdapter_ConnectDisconnect(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, adapter.IsConnected())

	require.NoError(t, adapter.Disconnect())
	assert.False(t, adapter.IsConnected())

	_, err := adapter.GetAveragePrice(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrNotConnected)
}

func TestAdapter_GetSymbolFilter(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{
            "symbols": [{
                "symbol": "ETHUSDT",
                "baseAsset": "ETH",
                "quoteAsset": "USDT",
                "filters": [
                    {"filterType": "PRICE_FILTER", "minPrice": "0.01000000", "maxPrice": "100000.00000000", "tickSize": "0.01000000"},
                    {"filterType": "LOT_SIZE", "minQty": "0.00010000", "maxQty": "9000.00000000", "stepSize": "0.00010000"},
                    {"filterType": "NOTIONAL", "minNotional": "10.00000000"}
                ]
            }]
        }`))
	})

	filter, err := adapter.GetSymbolFilter(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", filter.Symbol)
	assert.Equal(t, "ETH", filter.BaseAsset)
	assert.Equal(t, "USDT", filter.QuoteAsset)
	assert.True(t, filter.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, filter.StepSize.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, filter.MinNotional.Equal(decimal.NewFromInt(10)))
	assert.True(t, filter.MinPrice.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, filter.MaxQty.Equal(decimal.NewFromInt(9000)))
}

func TestAdapter_GetSymbolFilter_UnknownSymbol(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols": []}`))
	})

	_, err := adapter.GetSymbolFilter(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, exchange.ErrSymbolNotFound)
}

func TestAdapter_GetAveragePrice(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/avgPrice", r.URL.Path)
		w.Write([]byte(`{"mins": 5, "price": "4242.42000000"}`))
	})

	price, err := adapter.GetAveragePrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("4242.42")))
}

func TestAdapter_GetAssetBalance(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`{
            "balances": [
                {"asset": "ETH", "free": "1.23400000", "locked": "0.00000000"},
                {"asset": "USDT", "free": "5000.00000000", "locked": "0.00000000"}
            ]
        }`))
	})

	balance, err := adapter.GetAssetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	require.True(t, balance.Valid)
	assert.True(t, balance.Decimal.Equal(decimal.NewFromInt(5000)))

	// An asset the account report does not mention is absent, not zero.
	balance, err = adapter.GetAssetBalance(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.False(t, balance.Valid)
}

func TestAdapter_PlaceLimitBuy(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "ETHUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.0028", q.Get("quantity"))
		assert.Equal(t, "4242.4", q.Get("price"))
		assert.NotEmpty(t, q.Get("newClientOrderId"))
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))

		w.Write([]byte(`{
            "symbol": "ETHUSDT",
            "orderId": 12345,
            "clientOrderId": "` + q.Get("newClientOrderId") + `",
            "transactTime": 1635768000000,
            "price": "4242.40000000",
            "origQty": "0.00280000",
            "executedQty": "0.00000000",
            "cummulativeQuoteQty": "0.00000000",
            "status": "NEW",
            "timeInForce": "GTC",
            "type": "LIMIT",
            "side": "BUY"
        }`))
	})

	order, err := adapter.PlaceLimitBuy(context.Background(), "ETHUSDT",
		decimal.RequireFromString("4242.4"), decimal.RequireFromString("0.0028"))
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", order.Symbol)
	assert.EqualValues(t, 12345, order.OrderID)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, domain.OrderTypeLimit, order.Type)
	assert.Equal(t, domain.OrderStatusNew, order.Status)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("4242.4")))
	assert.True(t, order.OrigQty.Equal(decimal.RequireFromString("0.0028")))
	// Placement responses carry transactTime instead of time.
	assert.EqualValues(t, 1635768000000, order.Time)
}

func TestAdapter_PlaceLimitBuy_InsufficientFunds(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2010, "msg": "Account has insufficient balance for requested action."}`))
	})

	_, err := adapter.PlaceLimitBuy(context.Background(), "ETHUSDT",
		decimal.NewFromInt(4000), decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, exchange.ErrInsufficientFunds)
	assert.False(t, exchange.IsTransient(err))
}

func TestAdapter_GetOrderStatus_UnknownOrder(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2011, "msg": "Unknown order sent."}`))
	})

	_, err := adapter.GetOrderStatus(context.Background(), "ETHUSDT", 99999)
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
}

func TestAdapter_CancelOrder(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "12345", r.URL.Query().Get("orderId"))
		w.Write([]byte(`{"symbol": "ETHUSDT", "orderId": 12345, "status": "CANCELED"}`))
	})

	assert.NoError(t, adapter.CancelOrder(context.Background(), "ETHUSDT", 12345))
}

func TestAdapter_ListOpenOrders(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/openOrders", r.URL.Path)
		w.Write([]byte(`[{
            "symbol": "ETHUSDT",
            "orderId": 7,
            "price": "4242.40000000",
            "origQty": "0.00280000",
            "executedQty": "0.00100000",
            "cummulativeQuoteQty": "4.24240000",
            "status": "PARTIALLY_FILLED",
            "timeInForce": "GTC",
            "type": "LIMIT",
            "side": "BUY",
            "time": 1635768000000,
            "updateTime": 1635768100000
        }]`))
	})

	orders, err := adapter.ListOpenOrders(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.EqualValues(t, 7, orders[0].OrderID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, orders[0].Status)
	assert.EqualValues(t, 1635768100000, orders[0].UpdateTime)
}

func TestAdapter_NetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(serverTimeBody))
	}))
	adapter := binance.NewAdapterWithBaseURL(srv.URL, binance.Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
	})
	require.NoError(t, adapter.Connect(context.Background()))

	// A dead server is a retryable network failure, not an exchange answer.
	srv.Close()
	_, err := adapter.GetAveragePrice(context.Background(), "ETHUSDT")
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))
}
