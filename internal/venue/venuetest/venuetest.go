// Package venuetest provides a scripted in-memory venue adapter for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botcore/internal/venue"
)

// Venue implements venue.Adapter with scriptable responses.
type Venue struct {
	mu sync.Mutex

	Price    float64
	Candles  []venue.Candle
	Balances map[string]float64

	// FillOnSubmit makes market orders ack as FILLED at Price with FeeRate
	// applied to the notional.
	FillOnSubmit bool
	FeeRate      float64
	FeeCurrency  string

	orders  map[string]venue.OrderStatus
	history []string // venue order ids in creation order
	nextID  int

	failures map[string][]error // op -> queued errors, consumed FIFO

	// Call counters for assertions.
	BuyCalls, SellCalls, OrderQueries, HistoryQueries int
}

// New returns an empty scripted venue.
func New() *Venue {
	return &Venue{
		Balances:    map[string]float64{},
		FeeCurrency: "USDT",
		orders:      map[string]venue.OrderStatus{},
		failures:    map[string][]error{},
	}
}

// FailNext queues an error for the next call of op ("price", "candles",
// "balance", "buy", "sell", "order", "history").
func (v *Venue) FailNext(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[op] = append(v.failures[op], err)
}

func (v *Venue) popFailure(op string) error {
	queued := v.failures[op]
	if len(queued) == 0 {
		return nil
	}
	v.failures[op] = queued[1:]
	return queued[0]
}

// SetOrder overwrites the scripted status for a venue order id, simulating a
// venue-side transition between polls.
func (v *Venue) SetOrder(st venue.OrderStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[st.VenueOrderID]; !ok {
		v.history = append(v.history, st.VenueOrderID)
	}
	v.orders[st.VenueOrderID] = st
}

// Order returns the scripted status for id.
func (v *Venue) Order(id string) (venue.OrderStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.orders[id]
	return st, ok
}

func (v *Venue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.popFailure("price"); err != nil {
		return 0, err
	}
	return v.Price, nil
}

func (v *Venue) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Candle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.popFailure("candles"); err != nil {
		return nil, err
	}
	candles := v.Candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]venue.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (v *Venue) GetBalance(ctx context.Context, asset string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.popFailure("balance"); err != nil {
		return 0, err
	}
	return v.Balances[asset], nil
}

func (v *Venue) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (venue.Ack, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.BuyCalls++
	if err := v.popFailure("buy"); err != nil {
		return venue.Ack{}, err
	}
	qty := 0.0
	if v.Price > 0 {
		qty = quoteAmount / v.Price
	}
	return v.place(symbol, "BUY", clientOrderID, qty, quoteAmount), nil
}

func (v *Venue) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64, clientOrderID string) (venue.Ack, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.SellCalls++
	if err := v.popFailure("sell"); err != nil {
		return venue.Ack{}, err
	}
	return v.place(symbol, "SELL", clientOrderID, baseQuantity, baseQuantity*v.Price), nil
}

func (v *Venue) place(symbol, side, clientOrderID string, qty, notional float64) venue.Ack {
	v.nextID++
	id := fmt.Sprintf("mock-%d", v.nextID)

	st := venue.OrderStatus{
		VenueOrderID:  id,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		State:         venue.StateNew,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	ack := venue.Ack{VenueOrderID: id, State: venue.StateNew}

	if v.FillOnSubmit {
		st.State = venue.StateFilled
		st.Price = v.Price
		st.Quantity = qty
		st.Fee = notional * v.FeeRate
		st.FeeCurrency = v.FeeCurrency
		ack = venue.Ack{
			VenueOrderID: id,
			State:        venue.StateFilled,
			Price:        v.Price,
			Quantity:     qty,
			Fee:          st.Fee,
			FeeCurrency:  v.FeeCurrency,
		}
	}

	v.orders[id] = st
	v.history = append(v.history, id)
	return ack
}

func (v *Venue) GetOrder(ctx context.Context, symbol, venueOrderID string) (venue.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.OrderQueries++
	if err := v.popFailure("order"); err != nil {
		return venue.OrderStatus{}, err
	}
	st, ok := v.orders[venueOrderID]
	if !ok {
		return venue.OrderStatus{}, venue.ErrOrderNotFound
	}
	return st, nil
}

func (v *Venue) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]venue.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.HistoryQueries++
	if err := v.popFailure("history"); err != nil {
		return nil, err
	}
	out := make([]venue.OrderStatus, 0, len(v.history))
	for _, id := range v.history {
		st := v.orders[id]
		if symbol != "" && st.Symbol != symbol {
			continue
		}
		out = append(out, st)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var _ venue.Adapter = (*Venue)(nil)
