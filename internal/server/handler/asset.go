package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/asset"
	"github.com/openverse-labs/nftmarket/internal/domain"
)

// AssetHandler manages the collection registry: registering contracts,
// minting, and royalty configuration. Registration and minting are
// admin-gated; holdings queries are open.
type AssetHandler struct {
	assets    *asset.Registry
	authority *admin.Authority
	logger    *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(assets *asset.Registry, authority *admin.Authority, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, authority: authority, logger: logger}
}

// CreateCollection registers a new collection contract.
// POST /api/assets/collections
func (h *AssetHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Contract string `json:"contract"`
		Standard string `json:"standard"` // "single" or "shared"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authority.IsAdmin(caller) {
		writeEngineError(w, domain.ErrNotAdmin)
		return
	}
	contract, err := parseAddress("contract", req.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var standard domain.AssetStandard
	switch req.Standard {
	case "single":
		h.assets.Register(contract, asset.NewSingleCollection())
		standard = domain.StandardSingle
	case "shared":
		h.assets.Register(contract, asset.NewSharedCollection())
		standard = domain.StandardShared
	default:
		writeError(w, http.StatusBadRequest, "standard must be \"single\" or \"shared\"")
		return
	}

	h.logger.Info("collection registered",
		slog.String("contract", contract.Hex()),
		slog.String("standard", string(standard)),
	)
	writeJSON(w, http.StatusCreated, map[string]string{
		"contract": contract.Hex(),
		"standard": string(standard),
	})
}

// Mint creates tokens in a registered collection.
// POST /api/assets/mint
func (h *AssetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Contract string `json:"contract"`
		Owner    string `json:"owner"`
		TokenID  string `json:"token_id"`
		Amount   string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authority.IsAdmin(caller) {
		writeEngineError(w, domain.ErrNotAdmin)
		return
	}
	contract, err := parseAddress("contract", req.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseBigInt("token_id", req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseOptionalBigInt("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, standard, err := h.assets.Probe(contract)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	switch standard {
	case domain.StandardSingle:
		if err := c.(*asset.SingleCollection).Mint(owner, tokenID); err != nil {
			writeEngineError(w, err)
			return
		}
	case domain.StandardShared:
		if amount == nil || amount.Sign() <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be positive for shared-supply collections")
			return
		}
		c.(*asset.SharedCollection).Mint(owner, tokenID, amount)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"contract": contract.Hex(),
		"owner":    owner.Hex(),
		"token_id": tokenID.String(),
	})
}

// SetRoyalty configures the default or per-token royalty on a collection.
// POST /api/assets/royalty
func (h *AssetHandler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Contract string `json:"contract"`
		TokenID  string `json:"token_id"` // empty sets the collection default
		Receiver string `json:"receiver"`
		Bps      int64  `json:"bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authority.IsAdmin(caller) {
		writeEngineError(w, domain.ErrNotAdmin)
		return
	}
	contract, err := parseAddress("contract", req.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Bps < 0 || req.Bps > 10_000 {
		writeError(w, http.StatusBadRequest, "bps must be between 0 and 10000")
		return
	}
	tokenID, err := parseOptionalBigInt("token_id", req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, standard, err := h.assets.Probe(contract)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	switch standard {
	case domain.StandardSingle:
		sc := c.(*asset.SingleCollection)
		if tokenID == nil {
			sc.SetDefaultRoyalty(receiver, req.Bps)
		} else {
			sc.SetTokenRoyalty(tokenID, receiver, req.Bps)
		}
	case domain.StandardShared:
		sc := c.(*asset.SharedCollection)
		if tokenID == nil {
			sc.SetDefaultRoyalty(receiver, req.Bps)
		} else {
			sc.SetTokenRoyalty(tokenID, receiver, req.Bps)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contract": contract.Hex(),
		"receiver": receiver.Hex(),
		"bps":      req.Bps,
	})
}

// Holdings reports whether an owner holds a token, with the detected
// standard.
// GET /api/assets/holdings?contract=0x..&owner=0x..&token_id=1&amount=1
func (h *AssetHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contract, err := parseAddress("contract", q.Get("contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseBigInt("token_id", q.Get("token_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseOptionalBigInt("amount", q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount == nil {
		amount = big.NewInt(1)
	}

	_, standard, err := h.assets.Probe(contract)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	holds, err := h.assets.Holds(contract, owner, tokenID, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract": contract.Hex(),
		"owner":    owner.Hex(),
		"token_id": tokenID.String(),
		"standard": string(standard),
		"holds":    holds,
	})
}
