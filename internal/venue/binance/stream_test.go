package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func klinePayload(openTime int64, final bool) string {
	return fmt.Sprintf(`{"e":"kline","k":{"t":%d,"o":"100","h":"101","l":"99","c":"100.5","v":"12","x":%t}}`,
		openTime, final)
}

// Serves a kline stream that pumps messages as fast as the client reads.
func testStreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := int64(0); ; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(klinePayload(i*60000, true))); err != nil {
				return
			}
		}
	}))
}

func testStreamClient(srv *httptest.Server) *StreamClient {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &StreamClient{
		streamURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		dialer:    websocket.DefaultDialer,
		log:       log.WithField("component", "venue.binance.stream"),
	}
}

func TestSubscribeKlinesDeliversFinalCandles(t *testing.T) {
	srv := testStreamServer(t)
	defer srv.Close()

	c := testStreamClient(srv)
	ch, stop, err := c.SubscribeKlines(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	defer stop()

	select {
	case candle := <-ch:
		require.Equal(t, 100.5, candle.Close)
	case <-time.After(5 * time.Second):
		t.Fatal("no candle received")
	}
}

func TestSubscribeKlinesStopDuringTraffic(t *testing.T) {
	srv := testStreamServer(t)
	defer srv.Close()

	c := testStreamClient(srv)
	ch, stop, err := c.SubscribeKlines(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)

	// Stop while the server is mid-burst; the reader may be holding a
	// parsed candle it has not sent yet. The channel must still close
	// cleanly rather than panic on a send.
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never produced")
	}
	stop()
	stop() // idempotent

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after stop")
		}
	}
}
