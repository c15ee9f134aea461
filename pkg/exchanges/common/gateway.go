package common

import (
	"context"
	"errors"
)

// Gateway abstracts a spot trading venue. Implementations must be safe for
// concurrent use by several asset loops.
type Gateway interface {
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]Order, error)
	// GetOrder looks an order up by the client id it was submitted with.
	GetOrder(ctx context.Context, symbol, clientID string) (Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	GetServerTime(ctx context.Context) (int64, error)
}

var (
	// ErrTransient marks failures worth retrying on the next cycle
	// (network, rate limit, timestamp drift, venue 5xx).
	ErrTransient = errors.New("transient exchange error")
	// ErrOrderRejected marks an order the venue refused.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderNotFound is returned by GetOrder when the venue has no such order.
	ErrOrderNotFound = errors.New("order not found")
)

// IsTransient reports whether err should be retried next cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected reports whether the venue refused an order.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOrderRejected)
}

// FindBalance returns the balance line of asset, or a zero Balance.
func FindBalance(balances []Balance, asset string) Balance {
	for _, b := range balances {
		if b.Asset == asset {
			return b
		}
	}
	return Balance{Asset: asset}
}
