package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/order"
)

// OrderHandler serves offer-related HTTP endpoints for both offer kinds.
type OrderHandler struct {
	engine *order.Manager
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine *order.Manager, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		logger: logger,
	}
}

// makeWalletOrderRequest is the JSON body for a direct-to-wallet offer.
type makeWalletOrderRequest struct {
	Owner        string `json:"owner"`
	To           string `json:"to"`
	NFTContract  string `json:"nft_contract"`
	TokenID      string `json:"token_id"`
	Amount       string `json:"amount"`
	PaymentToken string `json:"payment_token"`
	BidPrice     string `json:"bid_price"`
	ExpiredTime  string `json:"expired_time"`
	Value        string `json:"value,omitempty"`
}

// MakeWalletOrder places (or tops up) an offer against an asset held in a
// specific wallet. A repeat offer by the same bidder for the same target
// adjusts the pending offer in place.
// POST /api/orders/wallet
func (h *OrderHandler) MakeWalletOrder(w http.ResponseWriter, r *http.Request) {
	var req makeWalletOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nftContract, err := parseAddress("nft_contract", req.NFTContract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseBigInt("token_id", req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paymentToken, err := parseOptionalAddress("payment_token", req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bidPrice, err := parseBigInt("bid_price", req.BidPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiredTime, err := parseTime("expired_time", req.ExpiredTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseOptionalBigInt("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.MakeWalletOrder(owner, paymentToken, bidPrice, to, nftContract, tokenID, amount, expiredTime, value)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: make wallet order rejected",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// callerRequest carries the caller address for accept/cancel operations.
type callerRequest struct {
	Caller string `json:"caller"`
}

// AcceptWalletOrder settles a pending wallet offer. Only the current holder
// of the asset can accept.
// POST /api/orders/wallet/{id}/accept
func (h *OrderHandler) AcceptWalletOrder(w http.ResponseWriter, r *http.Request) {
	h.acceptOrCancel(w, r, "accepted", h.engine.AcceptWalletOrder)
}

// CancelWalletOrder withdraws a pending wallet offer and refunds the escrowed
// bid. Only the bidder can cancel.
// DELETE /api/orders/wallet/{id}
func (h *OrderHandler) CancelWalletOrder(w http.ResponseWriter, r *http.Request) {
	h.acceptOrCancel(w, r, "canceled", h.engine.CancelWalletOrder)
}

// makeMarketItemOrderRequest is the JSON body for a listing-scoped offer.
type makeMarketItemOrderRequest struct {
	Owner        string   `json:"owner"`
	MarketItemID uint64   `json:"market_item_id"`
	PaymentToken string   `json:"payment_token"`
	BidPrice     string   `json:"bid_price"`
	ExpiredTime  string   `json:"expired_time"`
	Proof        []string `json:"proof,omitempty"`
	Value        string   `json:"value,omitempty"`
}

// MakeMarketItemOrder places (or tops up) an offer against an active listing
// at a price of the bidder's choosing.
// POST /api/orders/market-item
func (h *OrderHandler) MakeMarketItemOrder(w http.ResponseWriter, r *http.Request) {
	var req makeMarketItemOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paymentToken, err := parseOptionalAddress("payment_token", req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bidPrice, err := parseBigInt("bid_price", req.BidPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiredTime, err := parseTime("expired_time", req.ExpiredTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proof, err := parseProof(req.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseOptionalBigInt("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.MakeMarketItemOrder(owner, req.MarketItemID, paymentToken, bidPrice, expiredTime, proof, value)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: make market item order rejected",
			slog.String("owner", owner.Hex()),
			slog.Uint64("market_item_id", req.MarketItemID),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// AcceptMarketItemOrder settles a pending listing-scoped offer. Only the
// listing's seller can accept.
// POST /api/orders/market-item/{id}/accept
func (h *OrderHandler) AcceptMarketItemOrder(w http.ResponseWriter, r *http.Request) {
	h.acceptOrCancel(w, r, "accepted", h.engine.AcceptMarketItemOrder)
}

// CancelMarketItemOrder withdraws a pending listing-scoped offer.
// DELETE /api/orders/market-item/{id}
func (h *OrderHandler) CancelMarketItemOrder(w http.ResponseWriter, r *http.Request) {
	h.acceptOrCancel(w, r, "canceled", h.engine.CancelMarketItemOrder)
}

// GetWalletOrder returns one wallet offer by ID.
// GET /api/orders/wallet/{id}
func (h *OrderHandler) GetWalletOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.engine.WalletOrder(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletOrderDTO(o))
}

// GetMarketItemOrder returns one listing-scoped offer by ID.
// GET /api/orders/market-item/{id}
func (h *OrderHandler) GetMarketItemOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.engine.MarketItemOrder(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketItemOrderDTO(o))
}

// ListWalletOrders returns the wallet offers placed by a bidder.
// GET /api/orders/wallet?owner=0x...
func (h *OrderHandler) ListWalletOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders := h.engine.WalletOrdersByOwner(owner)
	out := make([]walletOrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toWalletOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// ListMarketItemOrders returns the offers made against one listing.
// GET /api/orders/market-item?market_item_id=3
func (h *OrderHandler) ListMarketItemOrders(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("market_item_id")
	itemID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market_item_id "+strconv.Quote(raw))
		return
	}

	orders := h.engine.MarketItemOrdersByItem(itemID)
	out := make([]marketItemOrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toMarketItemOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// acceptOrCancel is the shared body-decode + dispatch path for accept and
// cancel operations on either offer kind.
func (h *OrderHandler) acceptOrCancel(w http.ResponseWriter, r *http.Request, verb string, op func(caller common.Address, id uint64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(caller, id); err != nil {
		h.logger.WarnContext(r.Context(), "handler: order "+verb+" rejected",
			slog.Uint64("order_id", id),
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": verb, "id": id})
}
