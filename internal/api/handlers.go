package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botcore/pkg/db"
)

type listQuery struct {
	Bot   string `form:"bot"`
	Limit int    `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

type positionView struct {
	ID          string   `json:"id"`
	BotID       string   `json:"bot_id"`
	Symbol      string   `json:"symbol"`
	EntryPrice  float64  `json:"entry_price"`
	Quantity    float64  `json:"quantity"`
	OpenQty     float64  `json:"open_qty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	FilledAt    string   `json:"filled_at,omitempty"`
}

func (s *Server) getPositions(c *gin.Context) {
	lots, err := s.DB.OpenPositions(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to load positions")
		return
	}

	views := make([]positionView, 0, len(lots))
	for _, lot := range lots {
		v := positionView{
			ID:          lot.ID,
			BotID:       lot.BotID,
			Symbol:      lot.Symbol,
			EntryPrice:  lot.FilledPrice,
			Quantity:    lot.Quantity,
			OpenQty:     lot.OpenQuantity(),
			RealizedPnL: lot.RealizedPnL,
		}
		if lot.FilledAt != nil {
			v.FilledAt = lot.FilledAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"positions": views})
}

type tradeView struct {
	ID           string   `json:"id"`
	BotID        string   `json:"bot_id"`
	Side         string   `json:"side"`
	Symbol       string   `json:"symbol"`
	Status       string   `json:"status"`
	FilledPrice  float64  `json:"filled_price"`
	Quantity     float64  `json:"quantity"`
	Fee          float64  `json:"fee"`
	FeeCurrency  string   `json:"fee_currency,omitempty"`
	VenueOrderID string   `json:"venue_order_id,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	RealizedPnL  *float64 `json:"realized_pnl,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_QUERY", err.Error())
		return
	}
	q.normalize()

	trades, err := s.DB.ListTrades(c.Request.Context(), q.Bot, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to load trades")
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			ID:           t.ID,
			BotID:        t.BotID,
			Side:         t.Side,
			Symbol:       t.Symbol,
			Status:       t.Status,
			FilledPrice:  t.FilledPrice,
			Quantity:     t.Quantity,
			Fee:          t.Fee,
			FeeCurrency:  t.FeeCurrency,
			VenueOrderID: t.VenueOrderID,
			ParentID:     t.ParentID,
			RealizedPnL:  t.RealizedPnL,
			CreatedAt:    t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": views})
}

func (s *Server) getDecisions(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_QUERY", err.Error())
		return
	}
	q.normalize()

	decisions, err := s.DB.ListDecisions(c.Request.Context(), q.Bot, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to load decisions")
		return
	}
	if decisions == nil {
		decisions = []db.Decision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) getStats(c *gin.Context) {
	bot := c.Query("bot")
	stats, err := s.DB.GetStats(c.Request.Context(), bot)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
