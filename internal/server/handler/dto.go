package handler

import (
	"time"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// marketItemDTO is the wire representation of a listing. Base-unit integers
// travel as decimal strings; price_display carries the human-readable form.
type marketItemDTO struct {
	ID           uint64 `json:"id"`
	NFTContract  string `json:"nft_contract"`
	TokenID      string `json:"token_id"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	PriceDisplay string `json:"price_display"`
	Seller       string `json:"seller"`
	PaymentToken string `json:"payment_token"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status"`
	RootHash     string `json:"root_hash"`
	Standard     string `json:"standard"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toMarketItemDTO(m domain.MarketItem) marketItemDTO {
	return marketItemDTO{
		ID:           m.ID,
		NFTContract:  m.NFTContract.Hex(),
		TokenID:      m.TokenID.String(),
		Amount:       m.Amount.String(),
		Price:        m.Price.String(),
		PriceDisplay: formatUnits(m.Price),
		Seller:       m.Seller.Hex(),
		PaymentToken: m.PaymentToken.Hex(),
		StartTime:    m.StartTime.UTC().Format(time.RFC3339),
		EndTime:      m.EndTime.UTC().Format(time.RFC3339),
		Status:       string(m.Status),
		RootHash:     m.RootHash.Hex(),
		Standard:     string(m.Standard),
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toMarketItemDTOs(items []domain.MarketItem) []marketItemDTO {
	out := make([]marketItemDTO, 0, len(items))
	for _, m := range items {
		out = append(out, toMarketItemDTO(m))
	}
	return out
}

// walletOrderDTO is the wire representation of a direct-to-wallet offer.
type walletOrderDTO struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	To              string `json:"to"`
	NFTContract     string `json:"nft_contract"`
	TokenID         string `json:"token_id"`
	Amount          string `json:"amount"`
	PaymentToken    string `json:"payment_token"`
	BidPrice        string `json:"bid_price"`
	BidPriceDisplay string `json:"bid_price_display"`
	ExpiredTime     string `json:"expired_time"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toWalletOrderDTO(o domain.WalletOrder) walletOrderDTO {
	return walletOrderDTO{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		To:              o.To.Hex(),
		NFTContract:     o.NFTContract.Hex(),
		TokenID:         o.TokenID.String(),
		Amount:          o.Amount.String(),
		PaymentToken:    o.PaymentToken.Hex(),
		BidPrice:        o.BidPrice.String(),
		BidPriceDisplay: formatUnits(o.BidPrice),
		ExpiredTime:     o.ExpiredTime.UTC().Format(time.RFC3339),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// marketItemOrderDTO is the wire representation of a listing-scoped offer.
type marketItemOrderDTO struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	MarketItemID    uint64 `json:"market_item_id"`
	PaymentToken    string `json:"payment_token"`
	BidPrice        string `json:"bid_price"`
	BidPriceDisplay string `json:"bid_price_display"`
	ExpiredTime     string `json:"expired_time"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toMarketItemOrderDTO(o domain.MarketItemOrder) marketItemOrderDTO {
	return marketItemOrderDTO{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		MarketItemID:    o.MarketItemID,
		PaymentToken:    o.PaymentToken.Hex(),
		BidPrice:        o.BidPrice.String(),
		BidPriceDisplay: formatUnits(o.BidPrice),
		ExpiredTime:     o.ExpiredTime.UTC().Format(time.RFC3339),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// settlementDTO is the wire representation of a completed exchange.
type settlementDTO struct {
	ID              string `json:"id"`
	MarketItemID    uint64 `json:"market_item_id,omitempty"`
	OrderID         uint64 `json:"order_id,omitempty"`
	NFTContract     string `json:"nft_contract"`
	TokenID         string `json:"token_id"`
	Amount          string `json:"amount"`
	PaymentToken    string `json:"payment_token"`
	Price           string `json:"price"`
	PriceDisplay    string `json:"price_display"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	SellerProceeds  string `json:"seller_proceeds"`
	RoyaltyReceiver string `json:"royalty_receiver"`
	RoyaltyAmount   string `json:"royalty_amount"`
	MarketplaceFee  string `json:"marketplace_fee"`
	SettledAt       string `json:"settled_at"`
}

func toSettlementDTO(s domain.Settlement) settlementDTO {
	return settlementDTO{
		ID:              s.ID,
		MarketItemID:    s.MarketItemID,
		OrderID:         s.OrderID,
		NFTContract:     s.NFTContract.Hex(),
		TokenID:         s.TokenID.String(),
		Amount:          s.Amount.String(),
		PaymentToken:    s.PaymentToken.Hex(),
		Price:           s.Price.String(),
		PriceDisplay:    formatUnits(s.Price),
		Seller:          s.Seller.Hex(),
		Buyer:           s.Buyer.Hex(),
		SellerProceeds:  s.SellerProceeds.String(),
		RoyaltyReceiver: s.RoyaltyReceiver.Hex(),
		RoyaltyAmount:   s.RoyaltyAmount.String(),
		MarketplaceFee:  s.MarketplaceFee.String(),
		SettledAt:       s.SettledAt.UTC().Format(time.RFC3339),
	}
}
