package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spot-cycle-trader/internal/core"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/repository"
)

const (
	ServiceName         = "spot-cycle-trader"
	DefaultTradesLimit  = 50
	MaxTradesLimit      = 500
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

type StatusSource interface {
	Status() core.Status
}

type BalanceSource interface {
	All() []model.Balance
}

type StatsSource interface {
	Snapshot() repository.TradeStats
	Trend(days int) []repository.DayStat
}

type TradeSource interface {
	Recent(limit int) []repository.TradeRecord
}

// Handler serves the read-only status endpoints.
type Handler struct {
	status   StatusSource
	balances BalanceSource
	stats    StatsSource
	trades   TradeSource
	started  time.Time
}

func NewHandler(status StatusSource, balances BalanceSource, stats StatsSource, trades TradeSource) *Handler {
	return &Handler{
		status:   status,
		balances: balances,
		stats:    stats,
		trades:   trades,
		started:  time.Now(),
	}
}

func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware())
	router.Use(gin.Recovery())

	router.GET("/healthz", h.HealthCheck)
	router.GET("/status", h.GetStatus)
	router.GET("/stats", h.GetStats)
	router.GET("/trades", h.GetTrades)

	return router
}

// Server wraps the gin router in an http.Server so it can be shut down with the bot.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, h *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 Status server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
