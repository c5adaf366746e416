package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"spot-cycle-trader/internal/core"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/repository"
)

type statusResponse struct {
	core.Status
	Balances []model.Balance `json:"balances"`
}

type statsResponse struct {
	repository.TradeStats
	Trend []repository.DayStat `json:"trend"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := statusResponse{Status: h.status.Status(), Balances: h.balances.All()}
	if resp.Balances == nil {
		resp.Balances = []model.Balance{}
	}
	c.JSON(http.StatusOK, resp)
}

// GetStats handles GET /stats
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, statsResponse{
		TradeStats: h.stats.Snapshot(),
		Trend:      h.stats.Trend(7),
	})
}

// GetTrades handles GET /trades?limit=N, newest first.
func (h *Handler) GetTrades(c *gin.Context) {
	limit := DefaultTradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxTradesLimit {
			h.handleError(c, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(MaxTradesLimit))
			return
		}
		limit = n
	}

	trades := h.trades.Recent(limit)
	if trades == nil {
		trades = []repository.TradeRecord{}
	}
	c.JSON(http.StatusOK, trades)
}

func (h *Handler) handleError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":      message,
		"request_id": c.GetString(RequestIDContextKey),
	})
}
