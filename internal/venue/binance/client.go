// Package binance implements the venue adapter for Binance spot.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"botcore/internal/venue"
)

// Client wraps the go-binance spot client behind venue.Adapter.
type Client struct {
	api     *gobinance.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

// New builds the adapter. Testnet toggles the package-level base URL.
func New(apiKey, apiSecret string, testnet bool, log *logrus.Logger) *Client {
	gobinance.UseTestnet = testnet

	api := gobinance.NewClient(apiKey, apiSecret)
	api.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		api: api,
		// 10 req/s with a burst of 20 keeps well inside the spot weight
		// budget for this call mix.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		log:     log.WithField("component", "venue.binance"),
	}
}

func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return venue.Transient(op, err)
	}
	return nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.wait(ctx, "price"); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classify("price", err)
	}
	if len(prices) == 0 {
		return 0, venue.Permanent("price", fmt.Errorf("no price for %s", symbol))
	}
	return parseFloat(prices[0].Price), nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Candle, error) {
	if err := c.wait(ctx, "candles"); err != nil {
		return nil, err
	}
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("candles", err)
	}

	candles := make([]venue.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, venue.Candle{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.wait(ctx, "balance"); err != nil {
		return 0, err
	}
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("balance", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (venue.Ack, error) {
	if err := c.wait(ctx, "buy"); err != nil {
		return venue.Ack{}, err
	}
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeBuy).
		Type(gobinance.OrderTypeMarket).
		QuoteOrderQty(formatFloat(quoteAmount)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return venue.Ack{}, classify("buy", err)
	}
	c.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": res.OrderID}).
		Debug("market buy accepted")
	return ackFromResponse(res), nil
}

func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64, clientOrderID string) (venue.Ack, error) {
	if err := c.wait(ctx, "sell"); err != nil {
		return venue.Ack{}, err
	}
	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Type(gobinance.OrderTypeMarket).
		Quantity(formatFloat(baseQuantity)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return venue.Ack{}, classify("sell", err)
	}
	c.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": res.OrderID}).
		Debug("market sell accepted")
	return ackFromResponse(res), nil
}

func (c *Client) GetOrder(ctx context.Context, symbol, venueOrderID string) (venue.OrderStatus, error) {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return venue.OrderStatus{}, venue.Permanent("order", fmt.Errorf("bad venue order id %q: %w", venueOrderID, err))
	}
	if err := c.wait(ctx, "order"); err != nil {
		return venue.OrderStatus{}, err
	}
	o, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return venue.OrderStatus{}, venue.ErrOrderNotFound
		}
		return venue.OrderStatus{}, classify("order", err)
	}

	st := statusFromOrder(o)
	if st.State == venue.StateFilled || st.State == venue.StatePartiallyFilled {
		fee, feeCurrency, err := c.orderFee(ctx, symbol, id)
		if err != nil {
			// Fee lookup is best effort; the fill itself already succeeded.
			c.log.WithError(err).WithField("order_id", id).Warn("fee lookup failed")
		} else {
			st.Fee = fee
			st.FeeCurrency = feeCurrency
		}
	}
	return st, nil
}

func (c *Client) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]venue.OrderStatus, error) {
	if err := c.wait(ctx, "history"); err != nil {
		return nil, err
	}
	orders, err := c.api.NewListOrdersService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("history", err)
	}

	fees, feeCurrencies, err := c.tradeFees(ctx, symbol)
	if err != nil {
		c.log.WithError(err).WithField("symbol", symbol).Warn("fee lookup failed for history")
		fees = map[int64]float64{}
		feeCurrencies = map[int64]string{}
	}

	out := make([]venue.OrderStatus, 0, len(orders))
	for _, o := range orders {
		st := statusFromOrder(o)
		st.Fee = fees[o.OrderID]
		st.FeeCurrency = feeCurrencies[o.OrderID]
		out = append(out, st)
	}
	return out, nil
}

// orderFee sums commissions of the account trades belonging to one order.
func (c *Client) orderFee(ctx context.Context, symbol string, orderID int64) (float64, string, error) {
	fees, feeCurrencies, err := c.tradeFees(ctx, symbol)
	if err != nil {
		return 0, "", err
	}
	return fees[orderID], feeCurrencies[orderID], nil
}

func (c *Client) tradeFees(ctx context.Context, symbol string) (map[int64]float64, map[int64]string, error) {
	if err := c.wait(ctx, "mytrades"); err != nil {
		return nil, nil, err
	}
	trades, err := c.api.NewListTradesService().Symbol(symbol).Limit(500).Do(ctx)
	if err != nil {
		return nil, nil, classify("mytrades", err)
	}
	fees := make(map[int64]float64, len(trades))
	feeCurrencies := make(map[int64]string, len(trades))
	for _, t := range trades {
		fees[t.OrderID] += parseFloat(t.Commission)
		feeCurrencies[t.OrderID] = t.CommissionAsset
	}
	return fees, feeCurrencies, nil
}

var _ venue.Adapter = (*Client)(nil)
