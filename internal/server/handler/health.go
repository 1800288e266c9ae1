package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openverse-labs/nftmarket/internal/market"
	"github.com/openverse-labs/nftmarket/internal/order"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	market *market.Manager
	engine *order.Manager
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(mkt *market.Manager, engine *order.Manager, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		market: mkt,
		engine: engine,
		logger: logger,
	}
}

// HealthCheck responds with a simple JSON status plus engine counters.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	walletOrders, marketItemOrders := h.engine.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"listings":           h.market.Count(),
		"wallet_orders":      walletOrders,
		"market_item_orders": marketItemOrders,
	})
}
