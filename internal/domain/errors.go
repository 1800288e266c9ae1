package domain

import "errors"

// Sentinel errors returned by the settlement core. Every failed call surfaces
// exactly one of these (possibly wrapped) so callers can distinguish the
// reason without string matching.
var (
	// Invalid input.
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidTimeWindow = errors.New("invalid time window")
	ErrInvalidWallets    = errors.New("invalid wallets")
	ErrTokenNotExisted   = errors.New("token not existed")

	// Authorization.
	ErrNotSeller        = errors.New("not seller")
	ErrNotAdmin         = errors.New("not admin")
	ErrNotOwnerOfOffer  = errors.New("not the owner of offer")
	ErrCannotBuyOwnItem = errors.New("cannot buy own item")

	// State conflicts.
	ErrItemNotAvailable = errors.New("market item not available")
	ErrNotExpiredYet    = errors.New("not expired yet")
	ErrNotTheOrderTime  = errors.New("not the order time")
	ErrOrderExpired     = errors.New("order expired")
	ErrOrderNotPending  = errors.New("order not pending")

	// Payment.
	ErrPaymentTokenNotPermitted = errors.New("payment token not permitted")
	ErrCannotUpdatePaymentToken = errors.New("cannot update payment token")
	ErrNotEnoughFee             = errors.New("not enough fee")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientAllowance    = errors.New("insufficient allowance")

	// Whitelist / membership.
	ErrNotPermitted = errors.New("not permitted")

	// Ownership.
	ErrUserDoesNotOwnToken = errors.New("user does not own this token")

	// Lookup / infrastructure.
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
)
