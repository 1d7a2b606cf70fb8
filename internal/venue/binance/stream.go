package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"botcore/internal/venue"
)

// StreamClient subscribes to Binance public kline websockets. The engine uses
// it to keep a warm candle cache so a tick can still decide when the REST
// candle fetch fails transiently.
type StreamClient struct {
	streamURL string
	dialer    *websocket.Dialer
	log       *logrus.Entry
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log *logrus.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "stream.testnet.binance.vision"
	}
	return &StreamClient{
		streamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		log:       log.WithField("component", "venue.binance.stream"),
	}
}

// klineMessage mirrors the Binance kline stream payload.
type klineMessage struct {
	EventType string `json:"e"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

// SubscribeKlines streams closed candles for the symbol/timeframe. In-flight
// (not yet final) klines are dropped so consumers only ever see committed
// bars. Returns the channel and a stop function.
func (c *StreamClient) SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan venue.Candle, func(), error) {
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), timeframe)
	u := fmt.Sprintf("%s/%s", c.streamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan venue.Candle, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	// Only the reader closes out, after its last possible send.
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.WithError(err).Warn("kline stream read error")
				return
			}

			candle, final, err := parseKlineMessage(msg)
			if err != nil {
				c.log.WithError(err).Debug("kline stream parse error")
				continue
			}
			if !final {
				continue
			}
			select {
			case out <- candle:
			default:
				// drop if the consumer is slow
			}
		}
	}()

	return out, stop, nil
}

func parseKlineMessage(msg []byte) (venue.Candle, bool, error) {
	var m klineMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return venue.Candle{}, false, err
	}
	if m.EventType != "kline" {
		return venue.Candle{}, false, fmt.Errorf("unexpected event type %q", m.EventType)
	}
	candle := venue.Candle{
		Timestamp: msToTime(m.Kline.OpenTime),
		Open:      parseFloat(m.Kline.Open),
		High:      parseFloat(m.Kline.High),
		Low:       parseFloat(m.Kline.Low),
		Close:     parseFloat(m.Kline.Close),
		Volume:    parseFloat(m.Kline.Volume),
	}
	return candle, m.Kline.Final, nil
}
