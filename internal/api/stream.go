package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams every bus event to the client as JSON envelopes.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	stream, stop := s.Bus.SubscribeAll(100)
	defer stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}

// streamEvents serves the same envelopes over server-sent events for clients
// that cannot hold a websocket.
func (s *Server) streamEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	stream, stop := s.Bus.SubscribeAll(100)
	defer stop()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case env, ok := <-stream:
			if !ok {
				return false
			}
			payload, err := json.Marshal(env)
			if err != nil {
				return true
			}
			c.SSEvent(string(env.Event), string(payload))
			return true
		}
	})
}
