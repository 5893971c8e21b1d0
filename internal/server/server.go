package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/server/handler"
	"github.com/carbex/carbex/internal/server/middleware"
	"github.com/carbex/carbex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimitPerMin int // per client IP and per authenticated user
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	Market  *handler.MarketHandler
	Trading *handler.TradingHandler
	Orders  *handler.OrderHandler
	Account *handler.AccountHandler
	KYC     *handler.KYCHandler
	Contact *handler.ContactHandler
	Admin   *handler.AdminHandler
	Sources *handler.SourceHandler
}

// Server is the HTTP + WebSocket API behind the trading SPA.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the
// middleware chain: CORS, request logging, per-IP rate limiting, then
// per-route session auth and role guards.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, authn middleware.Authenticator, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 120
	}

	// user wraps a handler with session auth and a per-user rate
	// limit; admin additionally requires the admin role.
	user := func(h http.HandlerFunc) http.Handler {
		return middleware.Authenticate(authn)(
			middleware.UserRateLimit(limiter, perMin, time.Minute)(h),
		)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Authenticate(authn)(
			middleware.RequireRole(domain.RoleAdmin)(h),
		)
	}

	// Public endpoints.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/auth/register", handlers.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)
	mux.HandleFunc("POST /api/contact", handlers.Contact.Submit)
	mux.HandleFunc("GET /api/market/reference-prices", handlers.Market.ReferencePrices)
	mux.HandleFunc("GET /api/cash-market/order-book/{certificateType}", handlers.Market.OrderBook)
	mux.HandleFunc("GET /api/cash-market/trades/{certificateType}", handlers.Market.Trades)

	// Session endpoints.
	mux.Handle("POST /api/auth/logout", user(handlers.Auth.Logout))
	mux.Handle("GET /api/auth/session", user(handlers.Auth.Session))

	// Trading endpoints.
	mux.Handle("GET /api/cash-market/preview", user(handlers.Trading.Preview))
	mux.Handle("POST /api/cash-market/execute", user(handlers.Trading.Execute))
	mux.Handle("POST /api/cash-market/orders", user(handlers.Orders.Place))
	mux.Handle("GET /api/cash-market/orders", user(handlers.Orders.List))
	mux.Handle("DELETE /api/cash-market/orders/{id}", user(handlers.Orders.Cancel))

	// Account endpoints.
	mux.Handle("GET /api/account/balances", user(handlers.Account.Balances))
	mux.Handle("GET /api/account/trades", user(handlers.Account.Trades))
	mux.Handle("GET /api/account/executions", user(handlers.Trading.ListExecutions))
	mux.Handle("GET /api/account/executions/{orderID}", user(handlers.Trading.GetExecution))
	mux.Handle("POST /api/kyc/documents", user(handlers.KYC.Submit))
	mux.Handle("GET /api/kyc/documents", user(handlers.KYC.Documents))
	mux.Handle("GET /api/kyc/status", user(handlers.KYC.Status))

	// Back-office endpoints.
	mux.Handle("GET /api/admin/users", admin(handlers.Admin.ListUsers))
	mux.Handle("GET /api/admin/users/{id}", admin(handlers.Admin.GetUser))
	mux.Handle("PATCH /api/admin/users/{id}", admin(handlers.Admin.UpdateUser))
	mux.Handle("GET /api/admin/users/{id}/balances", admin(handlers.Admin.UserBalances))
	mux.Handle("POST /api/admin/users/{id}/balance", admin(handlers.Admin.AdjustBalance))
	mux.Handle("GET /api/admin/users/{id}/adjustments", admin(handlers.Admin.UserAdjustments))
	mux.Handle("GET /api/admin/kyc/pending", admin(handlers.Admin.PendingKYC))
	mux.Handle("GET /api/admin/kyc/users/{id}/documents", admin(handlers.Admin.UserDocuments))
	mux.Handle("GET /api/admin/kyc/documents/{id}/content", admin(handlers.Admin.DocumentContent))
	mux.Handle("POST /api/admin/kyc/users/{id}/review", admin(handlers.Admin.ReviewKYC))
	mux.Handle("GET /api/admin/contact-requests", admin(handlers.Contact.List))
	mux.Handle("PATCH /api/admin/contact-requests/{id}", admin(handlers.Contact.Update))
	mux.Handle("GET /api/admin/scrape-sources", admin(handlers.Sources.List))
	mux.Handle("POST /api/admin/scrape-sources", admin(handlers.Sources.Create))
	mux.Handle("GET /api/admin/scrape-sources/{id}", admin(handlers.Sources.Get))
	mux.Handle("PUT /api/admin/scrape-sources/{id}", admin(handlers.Sources.Update))
	mux.Handle("DELETE /api/admin/scrape-sources/{id}", admin(handlers.Sources.Delete))
	mux.Handle("POST /api/admin/scrape-sources/{id}/test", admin(handlers.Sources.Test))
	mux.Handle("GET /api/admin/audit", admin(handlers.Admin.Audit))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, outermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, perMin, time.Minute)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the
// server encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
