package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/server/handler"
	"github.com/openverse-labs/nftmarket/internal/server/middleware"
	"github.com/openverse-labs/nftmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // if zero, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Listings    *handler.ListingHandler
	Orders      *handler.OrderHandler
	Settlements *handler.SettlementHandler
	Admin       *handler.AdminHandler
	Funds       *handler.FundsHandler
	Assets      *handler.AssetHandler
}

// Server is the HTTP + WebSocket API surface of the marketplace engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limit) and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Listing endpoints.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("PUT /api/listings/{id}", handlers.Listings.RelistListing)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", handlers.Listings.Buy)
	mux.HandleFunc("GET /api/listings/{id}/quote", handlers.Listings.Quote)
	mux.HandleFunc("GET /api/listings/{id}/whitelist", handlers.Listings.VerifyWhitelist)

	// Offer endpoints.
	mux.HandleFunc("GET /api/orders/wallet", handlers.Orders.ListWalletOrders)
	mux.HandleFunc("POST /api/orders/wallet", handlers.Orders.MakeWalletOrder)
	mux.HandleFunc("GET /api/orders/wallet/{id}", handlers.Orders.GetWalletOrder)
	mux.HandleFunc("POST /api/orders/wallet/{id}/accept", handlers.Orders.AcceptWalletOrder)
	mux.HandleFunc("DELETE /api/orders/wallet/{id}", handlers.Orders.CancelWalletOrder)
	mux.HandleFunc("GET /api/orders/market-item", handlers.Orders.ListMarketItemOrders)
	mux.HandleFunc("POST /api/orders/market-item", handlers.Orders.MakeMarketItemOrder)
	mux.HandleFunc("GET /api/orders/market-item/{id}", handlers.Orders.GetMarketItemOrder)
	mux.HandleFunc("POST /api/orders/market-item/{id}/accept", handlers.Orders.AcceptMarketItemOrder)
	mux.HandleFunc("DELETE /api/orders/market-item/{id}", handlers.Orders.CancelMarketItemOrder)

	// Settlement journal.
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetSettlement)
	mux.HandleFunc("GET /api/audit", handlers.Settlements.ListAudit)

	// Collection registry endpoints.
	mux.HandleFunc("POST /api/assets/collections", handlers.Assets.CreateCollection)
	mux.HandleFunc("POST /api/assets/mint", handlers.Assets.Mint)
	mux.HandleFunc("POST /api/assets/royalty", handlers.Assets.SetRoyalty)
	mux.HandleFunc("GET /api/assets/holdings", handlers.Assets.Holdings)

	// Ledger endpoints.
	mux.HandleFunc("POST /api/funds/deposit", handlers.Funds.Deposit)
	mux.HandleFunc("POST /api/funds/approve", handlers.Funds.Approve)
	mux.HandleFunc("GET /api/funds/balance", handlers.Funds.Balance)
	mux.HandleFunc("GET /api/funds/allowance", handlers.Funds.Allowance)

	// Admin endpoints.
	mux.HandleFunc("POST /api/admin/payment-tokens", handlers.Admin.SetPaymentToken)
	mux.HandleFunc("POST /api/admin/nft-contracts", handlers.Admin.SetNFTContract)
	mux.HandleFunc("POST /api/admin/admins", handlers.Admin.SetAdmin)
	mux.HandleFunc("POST /api/admin/members", handlers.Admin.SetMember)
	mux.HandleFunc("POST /api/admin/membership", handlers.Admin.SetMembershipRequired)
	mux.HandleFunc("POST /api/admin/whitelist", handlers.Admin.BuildWhitelist)
	mux.HandleFunc("POST /api/admin/whitelist-root", handlers.Admin.RotateWhitelistRoot)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
