// Package venue abstracts a trading venue behind a single normalized
// request/response contract. Adapter implementations map exchange-specific
// shapes onto these types; core logic never branches on exchange identity.
package venue

import (
	"context"
	"time"
)

// Candle is one OHLCV bar, ordered ascending by timestamp.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Closes extracts the close series from an ascending candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// State is the venue-side lifecycle of an order, normalized across
// exchanges.
type State string

const (
	StateNew             State = "NEW"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
	StateUnknown         State = "UNKNOWN"
)

// OrderStatus is the normalized answer to an order query.
type OrderStatus struct {
	VenueOrderID  string
	ClientOrderID string
	Symbol        string
	Side          string // BUY or SELL
	State         State
	Price         float64 // average fill price when filled
	Quantity      float64 // executed base quantity
	Fee           float64
	FeeCurrency   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ack is the venue's immediate response to an order submission.
type Ack struct {
	VenueOrderID string
	State        State
	Price        float64 // average fill price if filled on submit
	Quantity     float64 // executed quantity if filled on submit
	Fee          float64
	FeeCurrency  string
}

// Adapter is the abstract venue contract consumed by the engine. Every call
// may fail with a transient or permanent classification (see Error); the
// caller only retries transient failures.
type Adapter interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	GetBalance(ctx context.Context, asset string) (float64, error)

	// PlaceMarketBuy sizes by quote-currency notional; PlaceMarketSell by
	// base-asset quantity. clientOrderID carries the local trade id so
	// recovery can re-attribute orders found only in venue history.
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (Ack, error)
	PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64, clientOrderID string) (Ack, error)

	GetOrder(ctx context.Context, symbol, venueOrderID string) (OrderStatus, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]OrderStatus, error)
}
