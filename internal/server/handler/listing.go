package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/market"
	"github.com/openverse-labs/nftmarket/internal/order"
)

// ListingHandler serves listing-related HTTP endpoints.
type ListingHandler struct {
	engine *order.Manager
	market *market.Manager
	cache  domain.ListingCache // may be nil
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(engine *order.Manager, mkt *market.Manager, cache domain.ListingCache, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		engine: engine,
		market: mkt,
		cache:  cache,
		logger: logger,
	}
}

// listListingsResponse wraps the list listings response.
type listListingsResponse struct {
	Listings []marketItemDTO `json:"listings"`
}

// ListListings returns listings. By default only currently active listings
// are returned; pass ?status=all for the full journal view.
// GET /api/listings?status=active|all
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	if status == "all" {
		writeJSON(w, http.StatusOK, listListingsResponse{
			Listings: toMarketItemDTOs(h.market.Items()),
		})
		return
	}

	// Serve active listings from the cache snapshot when available.
	if h.cache != nil {
		if items, err := h.cache.GetActive(r.Context()); err == nil {
			writeJSON(w, http.StatusOK, listListingsResponse{
				Listings: toMarketItemDTOs(items),
			})
			return
		}
	}

	items := h.market.ActiveItems()
	if h.cache != nil {
		if err := h.cache.SetActive(r.Context(), items); err != nil {
			h.logger.WarnContext(r.Context(), "handler: refresh listing cache failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: toMarketItemDTOs(items),
	})
}

// GetListing returns a single listing by ID.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.market.Item(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketItemDTO(item))
}

// createListingRequest is the JSON body for creating a listing.
type createListingRequest struct {
	Seller        string `json:"seller"`
	NFTContract   string `json:"nft_contract"`
	TokenID       string `json:"token_id"`
	Amount        string `json:"amount"`
	Price         string `json:"price"`
	PaymentToken  string `json:"payment_token"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	WhitelistRoot string `json:"whitelist_root,omitempty"`
}

// CreateListing lists an asset for sale, pulling it into marketplace escrow.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	seller, err := parseAddress("seller", req.Seller)
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
	price, err := parseBigInt("price", req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paymentToken, err := parseOptionalAddress("payment_token", req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime("end_time", req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	root := domain.EmptyRoot
	if req.WhitelistRoot != "" {
		root, err = hexDecodeHash(req.WhitelistRoot)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := h.engine.Sell(seller, nftContract, tokenID, amount, price, start, end, paymentToken, root)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create listing failed",
			slog.String("seller", seller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	h.invalidateCache(r.Context())
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// cancelListingRequest carries the caller address for a cancellation.
type cancelListingRequest struct {
	Caller string `json:"caller"`
}

// CancelListing cancels a free listing and releases the escrowed asset back
// to the seller.
// DELETE /api/listings/{id}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req cancelListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.CancelSell(caller, id); err != nil {
		writeEngineError(w, err)
		return
	}

	h.invalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "canceled", "id": id})
}

// relistRequest is the JSON body for relisting an expired listing.
type relistRequest struct {
	Caller       string `json:"caller"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	PaymentToken string `json:"payment_token"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

// RelistListing reopens an expired listing under new terms.
// PUT /api/listings/{id}
func (h *ListingHandler) RelistListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req relistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseBigInt("price", req.Price)
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
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime("end_time", req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.SellAvailableInMarketplace(caller, id, price, amount, start, end, paymentToken); err != nil {
		writeEngineError(w, err)
		return
	}

	h.invalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "relisted", "id": id})
}

// buyRequest is the JSON body for a direct purchase.
type buyRequest struct {
	Buyer string   `json:"buyer"`
	Proof []string `json:"proof,omitempty"`
	// Value is the attached native payment in base units; required (and must
	// equal the ask exactly) for native-token listings, omitted otherwise.
	Value string `json:"value,omitempty"`
}

// Buy purchases an active listing at the asked price.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	buyer, err := parseAddress("buyer", req.Buyer)
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

	if err := h.engine.Buy(buyer, id, proof, value); err != nil {
		h.logger.WarnContext(r.Context(), "handler: buy rejected",
			slog.Uint64("listing_id", id),
			slog.String("buyer", buyer.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	h.invalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "sold", "id": id})
}

// VerifyWhitelist checks a proof against a listing's whitelist root without
// mutating anything.
// GET /api/listings/{id}/whitelist?address=0x...&proof=0x...,0x...
func (h *ListingHandler) VerifyWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addr, err := parseAddress("address", r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var proof []common.Hash
	if raw := r.URL.Query()["proof"]; len(raw) > 0 {
		proof, err = parseProof(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ok, err := h.market.VerifyWhitelist(id, proof, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"allowed": ok})
}

// invalidateCache drops the active-listing snapshot after a mutation.
func (h *ListingHandler) invalidateCache(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("handler: invalidate listing cache failed",
			slog.String("error", err.Error()),
		)
	}
}

// quoteResponse previews the fee split for a listing at its current ask.
type quoteResponse struct {
	Price           string `json:"price"`
	MarketplaceFee  string `json:"marketplace_fee"`
	RoyaltyReceiver string `json:"royalty_receiver"`
	RoyaltyAmount   string `json:"royalty_amount"`
	SellerProceeds  string `json:"seller_proceeds"`
}

// Quote previews how a sale of the listing at its asked price would be split
// between treasury, royalty receiver, and seller.
// GET /api/listings/{id}/quote
func (h *ListingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.market.Item(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	fee, royaltyRecv, royalty, proceeds, err := h.engine.Quote(item.NFTContract, item.TokenID, item.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		Price:           item.Price.String(),
		MarketplaceFee:  fee.String(),
		RoyaltyReceiver: royaltyRecv.Hex(),
		RoyaltyAmount:   royalty.String(),
		SellerProceeds:  proceeds.String(),
	})
}
