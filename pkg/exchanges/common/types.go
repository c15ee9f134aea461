package common

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the trader submits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	ClientID    string
}

// Order is the normalized view of an exchange order (open or historical).
type Order struct {
	Symbol          string
	OrderID         string
	ClientID        string
	Side            Side
	Type            OrderType
	Status          OrderStatus
	Price           float64
	OrigQty         float64
	ExecutedQty     float64
	CumulativeQuote float64
	Time            time.Time
}

// AvgFillPrice returns the volume weighted execution price, or 0 when nothing executed.
func (o Order) AvgFillPrice() float64 {
	if o.ExecutedQty <= 0 {
		return 0
	}
	return o.CumulativeQuote / o.ExecutedQty
}

// Balance is one asset line of the account.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// SymbolFilters holds the price tick and lot step of a pair.
type SymbolFilters struct {
	Symbol    string
	PriceTick float64
	LotStep   float64
	MinQty    float64
}

var knownQuotes = []string{"USDT", "FDUSD", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY", "BRL"}

// SplitSymbol splits a pair such as BTCUSDT into base and quote using the
// venue's common quote assets.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	symbol = strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return "", "", false
}
