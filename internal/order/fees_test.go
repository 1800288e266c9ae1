package order

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/asset"
	"github.com/openverse-labs/nftmarket/internal/ledger"
	"github.com/openverse-labs/nftmarket/internal/market"
)

func newFeeManager(t *testing.T, royaltyBps int64) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{t: time.Unix(1_700_000_000, 0)}

	auth := admin.New([]common.Address{adminAddr})
	assets := asset.NewRegistry()
	single := asset.NewSingleCollection()
	single.SetDefaultRoyalty(royaltyRecv, royaltyBps)
	assets.Register(nftAddr, single)

	mkt, cap := market.NewManager(assets, auth, logger, market.WithClock(clk.Now))
	return NewManager(mkt, cap, assets, auth, ledger.New(), Config{
		Treasury: treasury,
		FeeBps:   feeBps,
	}, logger, WithClock(clk.Now))
}

func TestSplitPrice(t *testing.T) {
	m := newFeeManager(t, royaltyBps)

	cases := []struct {
		name  string
		price int64
	}{
		{"round price", 10_000},
		{"price with rounding remainder", 10_001},
		{"tiny price", 1},
		{"price below one fee unit", 39},
		{"large odd price", 999_999_999_999},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := big.NewInt(tc.price)
			split, err := m.splitPrice(nftAddr, bi(1), price)
			if err != nil {
				t.Fatalf("split: %v", err)
			}

			sum := new(big.Int).Add(split.MarketplaceFee, split.RoyaltyAmount)
			sum.Add(sum, split.SellerProceeds)
			if sum.Cmp(price) != 0 {
				t.Errorf("fee + royalty + proceeds = %s, want %s", sum, price)
			}

			// Floor division: the fee never exceeds the exact rate.
			exactFee := new(big.Int).Mul(price, bi(feeBps))
			exactFee.Div(exactFee, bi(bpsDenominator))
			if split.MarketplaceFee.Cmp(exactFee) != 0 {
				t.Errorf("fee = %s, want floor %s", split.MarketplaceFee, exactFee)
			}
			if split.SellerProceeds.Sign() < 0 {
				t.Errorf("negative seller proceeds %s", split.SellerProceeds)
			}
		})
	}
}

func TestSplitPriceNoRoyalty(t *testing.T) {
	m := newFeeManager(t, 0)

	price := big.NewInt(10_000)
	split, err := m.splitPrice(nftAddr, bi(1), price)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.RoyaltyAmount.Sign() != 0 {
		t.Errorf("royalty = %s, want 0", split.RoyaltyAmount)
	}
	if split.RoyaltyReceiver != (common.Address{}) {
		t.Errorf("royalty receiver = %s, want zero address", split.RoyaltyReceiver.Hex())
	}
	want := big.NewInt(9750)
	if split.SellerProceeds.Cmp(want) != 0 {
		t.Errorf("proceeds = %s, want %s", split.SellerProceeds, want)
	}
}

func TestSplitPriceRoyaltyCapped(t *testing.T) {
	// A royalty configured above 100% must not drain more than the
	// post-fee remainder.
	m := newFeeManager(t, 20_000)

	price := big.NewInt(10_000)
	split, err := m.splitPrice(nftAddr, bi(1), price)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.SellerProceeds.Sign() != 0 {
		t.Errorf("proceeds = %s, want 0", split.SellerProceeds)
	}
	sum := new(big.Int).Add(split.MarketplaceFee, split.RoyaltyAmount)
	if sum.Cmp(price) != 0 {
		t.Errorf("fee + royalty = %s, want %s", sum, price)
	}
}
