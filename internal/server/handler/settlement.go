package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// SettlementHandler serves read access to the settlement journal.
type SettlementHandler struct {
	settlements domain.SettlementStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements domain.SettlementStore, audit domain.AuditStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		audit:       audit,
		logger:      logger,
	}
}

// ListSettlements returns the most recent settlements.
// GET /api/settlements?limit=50
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	settlements, err := h.settlements.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settlements failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	out := make([]settlementDTO, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, toSettlementDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": out})
}

// GetSettlement returns one settlement by its UUID.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing settlement id")
		return
	}

	s, err := h.settlements.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get settlement failed",
			slog.String("settlement_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get settlement")
		return
	}

	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// ListAudit returns audit log entries with pagination.
// GET /api/audit?limit=50&offset=0
func (h *SettlementHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
