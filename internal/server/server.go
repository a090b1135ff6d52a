// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/server/handler"
	"github.com/agoramarkets/parimutuel/internal/server/middleware"
	"github.com/agoramarkets/parimutuel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Ledger  *handler.LedgerHandler
	Oracle  *handler.OracleHandler
	Relay   *handler.RelayHandler
}

// Server is the HTTP + WebSocket API server for the market engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (auth, logging, rate limit, CORS) applied. limiter
// may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.ListBets)
	mux.HandleFunc("GET /api/markets/{id}/positions/{account}", handlers.Markets.GetPosition)
	mux.HandleFunc("POST /api/markets/{id}/close", handlers.Markets.CloseMarket)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Markets.DisputeMarket)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Markets.FinalizeMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.Claim)
	mux.HandleFunc("POST /api/markets/{id}/refund", handlers.Markets.ClaimRefund)
	mux.HandleFunc("GET /api/markets/{id}/settlements/{account}", handlers.Markets.GetSettlement)
	mux.HandleFunc("GET /api/accounts/{account}/bets", handlers.Markets.ListAccountBets)
	mux.HandleFunc("GET /api/treasury", handlers.Markets.GetTreasury)

	// Asset ledger.
	mux.HandleFunc("POST /api/ledger/approve", handlers.Ledger.Approve)
	mux.HandleFunc("GET /api/ledger/balances/{account}", handlers.Ledger.GetBalance)
	mux.HandleFunc("GET /api/ledger/allowances/{owner}/{spender}", handlers.Ledger.GetAllowance)

	// Oracle surface.
	mux.HandleFunc("POST /api/oracle/requests", handlers.Oracle.RequestResolution)
	mux.HandleFunc("GET /api/oracle/requests/{id}", handlers.Oracle.GetRequest)
	mux.HandleFunc("POST /api/oracle/requests/{id}/resolve", handlers.Oracle.Resolve)
	mux.HandleFunc("GET /api/oracle/requests/{id}/evidence", handlers.Oracle.GetEvidence)
	mux.HandleFunc("GET /api/oracle/evidence", handlers.Oracle.ListEvidence)
	mux.HandleFunc("GET /api/markets/{id}/resolutions", handlers.Oracle.ListByMarket)

	// Relay surface.
	if handlers.Relay != nil {
		mux.HandleFunc("POST /api/relay/bets", handlers.Relay.PlaceBet)
	}

	// Event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
