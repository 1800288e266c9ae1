package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus tracks the offer lifecycle. Pending is the only live state;
// accepted and canceled are terminal.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderAccepted OrderStatus = "accepted"
	OrderCanceled OrderStatus = "canceled"
)

// OrderInfo is the lifecycle core shared by both offer kinds. The bid amount
// is escrowed by the order manager for as long as the status is pending.
type OrderInfo struct {
	ID           uint64
	PaymentToken common.Address
	BidPrice     *big.Int
	ExpiredTime  time.Time
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiredAt reports whether the offer can no longer be accepted at t.
func (o OrderInfo) ExpiredAt(t time.Time) bool {
	return t.After(o.ExpiredTime)
}

// WalletOrder is an offer made directly against an asset and its current
// holder, independent of any listing.
type WalletOrder struct {
	OrderInfo
	Owner       common.Address // bidder
	To          common.Address // current holder of the asset
	NFTContract common.Address
	TokenID     *big.Int
	Amount      *big.Int
}

// MarketItemOrder is an offer scoped to an active listing. Ownership of the
// asset needs no separate verification: the marketplace already escrows it.
type MarketItemOrder struct {
	OrderInfo
	Owner        common.Address // bidder
	MarketItemID uint64
}

// Settlement records one completed exchange: who paid whom, and how the
// settled price was split between seller, royalty receiver, and treasury.
type Settlement struct {
	ID              string // uuid
	MarketItemID    uint64 // 0 for wallet-order settlements
	OrderID         uint64 // 0 for direct buys
	NFTContract     common.Address
	TokenID         *big.Int
	Amount          *big.Int
	PaymentToken    common.Address
	Price           *big.Int
	Seller          common.Address
	Buyer           common.Address
	SellerProceeds  *big.Int
	RoyaltyReceiver common.Address
	RoyaltyAmount   *big.Int
	MarketplaceFee  *big.Int
	SettledAt       time.Time
}
