// Package api exposes the read-only operator surface: ledger queries,
// aggregate stats, health and a live event stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"botcore/internal/events"
	"botcore/pkg/db"
)

// Server wires HTTP endpoints around the ledger and the event bus.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus
	DB     *db.Database
	Log    *logrus.Logger
	Meta   SystemMeta
}

// SystemMeta describes runtime status exposed alongside health.
type SystemMeta struct {
	DryRun      bool
	Venue       string
	Bots        []string
	RunInterval time.Duration
	Version     string
}

func NewServer(bus *events.Bus, database *db.Database, log *logrus.Logger, meta SystemMeta) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router: r,
		Bus:    bus,
		DB:     database,
		Log:    log,
		Meta:   meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/decisions", s.getDecisions)
		api.GET("/stats", s.getStats)
		api.GET("/events", s.streamEvents)
	}
}

// health reports liveness plus the age of the last completed batch so a
// stalled scheduler is visible from the outside.
func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":   "ok",
		"dry_run":  s.Meta.DryRun,
		"venue":    s.Meta.Venue,
		"bots":     s.Meta.Bots,
		"interval": s.Meta.RunInterval.String(),
		"version":  s.Meta.Version,
	}
	if lastRun, _, err := s.DB.GetKV(c.Request.Context(), "last_run"); err == nil {
		resp["last_run"] = lastRun
		if t, err := time.Parse(time.RFC3339, lastRun); err == nil {
			age := time.Since(t)
			resp["last_run_age"] = age.Round(time.Second).String()
			// Two missed intervals means the scheduler is stuck.
			if s.Meta.RunInterval > 0 && age > 2*s.Meta.RunInterval {
				resp["status"] = "stale"
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}
