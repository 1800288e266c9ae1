package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the payment-token sentinel for the chain's native currency.
// A MarketItem or order whose PaymentToken equals NativeToken settles in
// native value rather than through a token transfer.
var NativeToken = common.Address{}

// EmptyRoot marks a listing with no whitelist; every buyer is permitted.
var EmptyRoot = common.Hash{}

// AssetStandard identifies the transfer primitive an NFT contract supports.
type AssetStandard string

const (
	StandardSingle  AssetStandard = "single" // one owner per token id
	StandardShared  AssetStandard = "shared" // per-owner balances per token id
	StandardUnknown AssetStandard = "unknown"
)

// MarketItemStatus tracks the listing lifecycle.
type MarketItemStatus string

const (
	MarketItemFree     MarketItemStatus = "free"
	MarketItemSold     MarketItemStatus = "sold"
	MarketItemCanceled MarketItemStatus = "canceled"
)

// MarketItem is one listing: an offer-to-sell of a specific asset quantity at
// a fixed price within a time window. While the status is free and now is
// inside [StartTime, EndTime] the asset sits in marketplace escrow and the
// listing is purchasable. Outside the window the asset stays escrowed until
// the seller cancels or relists.
type MarketItem struct {
	ID           uint64
	NFTContract  common.Address
	TokenID      *big.Int
	Amount       *big.Int // 1 for single-owner assets
	Price        *big.Int // ask in payment-token base units
	Seller       common.Address
	PaymentToken common.Address // NativeToken for native currency
	StartTime    time.Time
	EndTime      time.Time
	Status       MarketItemStatus
	RootHash     common.Hash // merkle root of the allow-list, EmptyRoot = public
	Standard     AssetStandard
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActiveAt reports whether the listing can be bought or offered on at t.
func (m MarketItem) ActiveAt(t time.Time) bool {
	return m.Status == MarketItemFree && !t.Before(m.StartTime) && !t.After(m.EndTime)
}

// ExpiredAt reports whether the listing window has fully elapsed at t.
func (m MarketItem) ExpiredAt(t time.Time) bool {
	return t.After(m.EndTime)
}

// Public reports whether the listing has no whitelist.
func (m MarketItem) Public() bool {
	return m.RootHash == EmptyRoot
}
