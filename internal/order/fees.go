package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// bpsDenominator is the fixed-point base for fee rates: 10_000 bps = 100%.
const bpsDenominator = 10_000

// feeSplit is the exact decomposition of a settled price. The marketplace fee
// comes off the top, the royalty comes off the remainder, and the seller
// receives what is left. All divisions floor, so rounding remainders accrue
// to the fee side, never to the seller.
type feeSplit struct {
	MarketplaceFee  *big.Int
	RoyaltyReceiver common.Address
	RoyaltyAmount   *big.Int
	SellerProceeds  *big.Int
}

// splitPrice computes the fee split for a sale of the given asset at price.
// Conservation holds exactly: fee + royalty + proceeds == price.
func (m *Manager) splitPrice(nftContract common.Address, tokenID, price *big.Int) (feeSplit, error) {
	fee := new(big.Int).Mul(price, big.NewInt(m.feeBps))
	fee.Div(fee, big.NewInt(bpsDenominator))

	remainder := new(big.Int).Sub(price, fee)

	receiver, royalty, err := m.market.RoyaltyOf(nftContract, tokenID, remainder)
	if err != nil {
		return feeSplit{}, fmt.Errorf("order_manager: fee split: %w", err)
	}
	if royalty == nil {
		royalty = new(big.Int)
	}
	if royalty.Cmp(remainder) > 0 {
		// A misconfigured royalty cannot drain more than the remainder.
		royalty = new(big.Int).Set(remainder)
	}

	return feeSplit{
		MarketplaceFee:  fee,
		RoyaltyReceiver: receiver,
		RoyaltyAmount:   royalty,
		SellerProceeds:  new(big.Int).Sub(remainder, royalty),
	}, nil
}

// Quote previews the fee split for a hypothetical sale of the asset at price
// without touching any state. It returns the marketplace fee, the royalty
// receiver and amount, and the seller proceeds.
func (m *Manager) Quote(nftContract common.Address, tokenID, price *big.Int) (*big.Int, common.Address, *big.Int, *big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, common.Address{}, nil, nil, domain.ErrInvalidPrice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	split, err := m.splitPrice(nftContract, tokenID, price)
	if err != nil {
		return nil, common.Address{}, nil, nil, err
	}
	return split.MarketplaceFee, split.RoyaltyReceiver, split.RoyaltyAmount, split.SellerProceeds, nil
}

// payout routes an escrowed settled price out of the order escrow account
// according to the split: marketplace fee to the treasury, royalty to its
// receiver, proceeds to the seller.
func (m *Manager) payout(token common.Address, seller common.Address, split feeSplit) error {
	if split.MarketplaceFee.Sign() > 0 {
		if err := m.funds.Transfer(token, EscrowAddress, m.treasury, split.MarketplaceFee); err != nil {
			return fmt.Errorf("order_manager: payout fee: %w", err)
		}
	}
	if split.RoyaltyAmount.Sign() > 0 {
		if err := m.funds.Transfer(token, EscrowAddress, split.RoyaltyReceiver, split.RoyaltyAmount); err != nil {
			return fmt.Errorf("order_manager: payout royalty: %w", err)
		}
	}
	if split.SellerProceeds.Sign() > 0 {
		if err := m.funds.Transfer(token, EscrowAddress, seller, split.SellerProceeds); err != nil {
			return fmt.Errorf("order_manager: payout seller: %w", err)
		}
	}
	return nil
}
