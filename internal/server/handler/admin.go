package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/market"
	"github.com/openverse-labs/nftmarket/internal/merkle"
)

// AdminHandler serves admin-gated configuration endpoints. Every operation
// carries the caller address; the authority rejects non-admins.
type AdminHandler struct {
	authority *admin.Authority
	market    *market.Manager
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(authority *admin.Authority, mkt *market.Manager, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		authority: authority,
		market:    mkt,
		logger:    logger,
	}
}

// grantRequest toggles a permission for a target address.
type grantRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

func (h *AdminHandler) decodeGrant(w http.ResponseWriter, r *http.Request) (caller, target common.Address, allowed, ok bool) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	return c, t, req.Allowed, true
}

// SetPaymentToken permits or revokes an ERC-20 token for settlement.
// POST /api/admin/payment-tokens
func (h *AdminHandler) SetPaymentToken(w http.ResponseWriter, r *http.Request) {
	caller, target, allowed, ok := h.decodeGrant(w, r)
	if !ok {
		return
	}
	if err := h.authority.SetPermittedPaymentToken(caller, target, allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target.Hex(), "allowed": allowed})
}

// SetNFTContract permits or revokes a collection for listing.
// POST /api/admin/nft-contracts
func (h *AdminHandler) SetNFTContract(w http.ResponseWriter, r *http.Request) {
	caller, target, allowed, ok := h.decodeGrant(w, r)
	if !ok {
		return
	}
	if err := h.authority.SetPermittedNFT(caller, target, allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target.Hex(), "allowed": allowed})
}

// SetAdmin grants or revokes admin rights.
// POST /api/admin/admins
func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	caller, target, allowed, ok := h.decodeGrant(w, r)
	if !ok {
		return
	}
	if err := h.authority.SetAdmin(caller, target, allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target.Hex(), "allowed": allowed})
}

// SetMember grants or revokes the membership token.
// POST /api/admin/members
func (h *AdminHandler) SetMember(w http.ResponseWriter, r *http.Request) {
	caller, target, allowed, ok := h.decodeGrant(w, r)
	if !ok {
		return
	}
	if err := h.authority.SetMember(caller, target, allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target.Hex(), "member": allowed})
}

// membershipRequest toggles the global membership gate.
type membershipRequest struct {
	Caller   string `json:"caller"`
	Required bool   `json:"required"`
}

// SetMembershipRequired toggles whether buying and bidding require the
// membership token.
// POST /api/admin/membership
func (h *AdminHandler) SetMembershipRequired(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authority.SetMembershipRequired(caller, req.Required); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"required": req.Required})
}

// rotateRootRequest swaps a whitelist root across all open listings carrying
// the old root.
type rotateRootRequest struct {
	Caller  string `json:"caller"`
	OldRoot string `json:"old_root"`
	NewRoot string `json:"new_root"`
}

// RotateWhitelistRoot replaces oldRoot with newRoot on every free listing
// whose whitelist root matches oldRoot.
// POST /api/admin/whitelist-root
func (h *AdminHandler) RotateWhitelistRoot(w http.ResponseWriter, r *http.Request) {
	var req rotateRootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oldRoot, err := hexDecodeHash(req.OldRoot)
	if err != nil {
		writeError(w, http.StatusBadRequest, "old_root: "+err.Error())
		return
	}
	newRoot, err := hexDecodeHash(req.NewRoot)
	if err != nil {
		writeError(w, http.StatusBadRequest, "new_root: "+err.Error())
		return
	}

	if err := h.market.SetWhitelistRoot(caller, oldRoot, newRoot); err != nil {
		writeEngineError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin: whitelist root rotated",
		slog.String("caller", caller.Hex()),
		slog.String("old_root", oldRoot.Hex()),
		slog.String("new_root", newRoot.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]any{"old_root": oldRoot.Hex(), "new_root": newRoot.Hex()})
}

// BuildWhitelist builds a merkle tree over the given addresses and returns
// the root together with per-address proofs, ready to commit to a listing.
// POST /api/admin/whitelist
func (h *AdminHandler) BuildWhitelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string   `json:"caller"`
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
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
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses must not be empty")
		return
	}

	addrs := make([]common.Address, 0, len(req.Addresses))
	for _, s := range req.Addresses {
		a, err := parseAddress("addresses", s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		addrs = append(addrs, a)
	}

	tree, err := merkle.NewTree(addrs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	proofs := make(map[string][]string, len(addrs))
	for _, a := range addrs {
		proof, err := tree.ProofFor(a)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		hexProof := make([]string, len(proof))
		for i, p := range proof {
			hexProof[i] = p.Hex()
		}
		proofs[a.Hex()] = hexProof
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"root":   tree.Root().Hex(),
		"proofs": proofs,
	})
}
