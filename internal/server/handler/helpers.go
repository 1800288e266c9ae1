// Package handler contains the HTTP handlers for the marketplace API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps an engine error onto the appropriate HTTP status and
// sends it as a JSON error body.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, errStatus(err), err.Error())
}

// errStatus maps domain sentinel errors to HTTP status codes. Unrecognized
// errors map to 500.
func errStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errorsIsAny(err,
		domain.ErrInvalidAmount, domain.ErrInvalidPrice,
		domain.ErrInvalidTimeWindow, domain.ErrInvalidWallets,
		domain.ErrCannotUpdatePaymentToken, domain.ErrNotEnoughFee):
		return http.StatusBadRequest
	case errorsIsAny(err, domain.ErrNotFound, domain.ErrTokenNotExisted):
		return http.StatusNotFound
	case errorsIsAny(err,
		domain.ErrNotSeller, domain.ErrNotAdmin, domain.ErrNotOwnerOfOffer,
		domain.ErrNotPermitted, domain.ErrCannotBuyOwnItem,
		domain.ErrUserDoesNotOwnToken):
		return http.StatusForbidden
	case errorsIsAny(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errorsIsAny(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errorsIsAny(err,
		domain.ErrItemNotAvailable, domain.ErrNotExpiredYet,
		domain.ErrNotTheOrderTime, domain.ErrOrderExpired,
		domain.ErrOrderNotPending, domain.ErrPaymentTokenNotPermitted,
		domain.ErrInsufficientBalance, domain.ErrInsufficientAllowance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathID parses the {id} path parameter as an unsigned integer.
func pathID(r *http.Request) (uint64, error) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseAddress validates and parses a hex address field.
func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseOptionalAddress parses an address field that may be empty; empty maps
// to the native-token sentinel (zero address).
func parseOptionalAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, s)
}

// parseBigInt parses a decimal string into a big.Int. An empty string is an
// error; use parseOptionalBigInt when the field may be absent.
func parseBigInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, s)
	}
	return v, nil
}

// parseOptionalBigInt parses a decimal string, returning nil for "".
func parseOptionalBigInt(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBigInt(field, s)
}

// parseProof decodes a slice of hex strings into merkle proof hashes.
func parseProof(raw []string) ([]common.Hash, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	proof := make([]common.Hash, 0, len(raw))
	for _, s := range raw {
		b, err := hexDecodeHash(s)
		if err != nil {
			return nil, err
		}
		proof = append(proof, b)
	}
	return proof, nil
}

func hexDecodeHash(s string) (common.Hash, error) {
	if len(s) != 66 || s[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.HexToHash(s), nil
}

// parseTime accepts either an RFC3339 timestamp or a Unix-seconds integer.
func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s: required", field)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%s: invalid timestamp %q", field, s)
}

// displayUnits is the decimal scale used when rendering base-unit amounts for
// humans. All supported payment tokens in this deployment use 18 decimals.
const displayUnits = 18

// formatUnits renders a base-unit amount as a human-readable decimal string.
func formatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -displayUnits).String()
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
