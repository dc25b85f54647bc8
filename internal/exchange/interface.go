// Package exchange defines the gateway interface to the trading venue.
// The rest of the bot consumes the exchange exclusively through Gateway,
// so tests can substitute fakes and the venue client stays swappable.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"dcabot/internal/domain"
)

// Sentinel errors for exchange operations.
var (
	// ErrTransient marks a retryable network failure (timeout, connection error).
	// Callers classify with errors.Is; everything not marked transient is an
	// exchange-side answer and must not be blindly retried.
	ErrTransient = errors.New("transient network error")
	// ErrNotConnected is returned when an operation requires a connection but the gateway is not connected.
	ErrNotConnected = errors.New("exchange not connected")
	// ErrSymbolNotFound is returned when a symbol is not available on the exchange.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrInsufficientFunds is returned when there's not enough balance to place an order.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound is returned when an order ID doesn't exist on the exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected is returned when the exchange refuses an order that passed local validation.
	ErrOrderRejected = errors.New("order rejected by exchange")
	// ErrRateLimitExceeded is returned when the API rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Gateway is the unified interface to the exchange.
// Implementations must be safe for concurrent use: the scheduling loop and
// the fulfillment tracker call it from separate goroutines.
type Gateway interface {
	// Connect verifies connectivity to the exchange API.
	Connect(ctx context.Context) error

	// Disconnect releases any resources held by the gateway.
	// Safe to call multiple times.
	Disconnect() error

	// IsConnected returns true if the gateway connection is active.
	IsConnected() bool

	// GetSymbolFilter fetches the trading constraints for a symbol.
	// Returns ErrSymbolNotFound if the symbol is unknown to the exchange.
	GetSymbolFilter(ctx context.Context, symbol string) (domain.SymbolFilter, error)

	// GetAveragePrice fetches the current average price for a symbol.
	GetAveragePrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetAssetBalance returns the free balance of a single asset.
	// An asset the exchange reports nothing for yields an invalid NullDecimal,
	// not an error.
	GetAssetBalance(ctx context.Context, asset string) (decimal.NullDecimal, error)

	// PlaceLimitBuy submits a good-till-cancelled limit buy order.
	// Returns ErrInsufficientFunds or ErrOrderRejected on exchange refusal.
	PlaceLimitBuy(ctx context.Context, symbol string, price, quantity decimal.Decimal) (domain.Order, error)

	// GetOrderStatus retrieves the current state of an order.
	// Returns ErrOrderNotFound if the order doesn't exist.
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (domain.Order, error)

	// CancelOrder cancels an open order.
	// Returns ErrOrderNotFound if the order doesn't exist or is already final.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// ListOpenOrders returns all currently open orders for a symbol.
	ListOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)

	// Name returns the unique identifier of the exchange (e.g., "binance").
	Name() string
}
