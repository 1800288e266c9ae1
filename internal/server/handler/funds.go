package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openverse-labs/nftmarket/internal/ledger"
	"github.com/openverse-labs/nftmarket/internal/order"
)

// FundsHandler exposes the internal payment ledger: deposits, escrow
// allowances, and balance queries. Deposits stand in for on-ramp transfers
// the way the rest of the API stands in for transaction submission.
type FundsHandler struct {
	funds  *ledger.Ledger
	logger *slog.Logger
}

// NewFundsHandler creates a FundsHandler.
func NewFundsHandler(funds *ledger.Ledger, logger *slog.Logger) *FundsHandler {
	return &FundsHandler{funds: funds, logger: logger}
}

type fundsRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// Deposit credits an account with the given token amount.
// POST /api/funds/deposit
func (h *FundsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseOptionalAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	h.funds.Deposit(token, account, amount)
	h.logger.Info("funds deposited",
		slog.String("account", account.Hex()),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": h.funds.BalanceOf(token, account).String(),
	})
}

// Approve grants the order escrow an allowance over the account's tokens.
// POST /api/funds/approve
func (h *FundsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	h.funds.Approve(token, account, order.EscrowAddress, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"allowance": h.funds.Allowance(token, account, order.EscrowAddress).String(),
	})
}

// Balance returns the account's balance in the given token.
// GET /api/funds/balance?account=0x..&token=0x..
func (h *FundsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseOptionalAddress("token", r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"token":   token.Hex(),
		"balance": h.funds.BalanceOf(token, account).String(),
	})
}

// Allowance returns the escrow allowance the account has granted in the
// given token.
// GET /api/funds/allowance?account=0x..&token=0x..
func (h *FundsHandler) Allowance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress("token", r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":   account.Hex(),
		"token":     token.Hex(),
		"allowance": h.funds.Allowance(token, account, order.EscrowAddress).String(),
	})
}
