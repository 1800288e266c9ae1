package order

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/asset"
	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/ledger"
	"github.com/openverse-labs/nftmarket/internal/market"
	"github.com/openverse-labs/nftmarket/internal/merkle"
)

var (
	adminAddr   = common.HexToAddress("0xA000000000000000000000000000000000000001")
	sellerAddr  = common.HexToAddress("0xA000000000000000000000000000000000000002")
	buyerAddr   = common.HexToAddress("0xA000000000000000000000000000000000000003")
	bidderC     = common.HexToAddress("0xA000000000000000000000000000000000000004")
	bidderD     = common.HexToAddress("0xA000000000000000000000000000000000000005")
	treasury    = common.HexToAddress("0xA000000000000000000000000000000000000006")
	royaltyRecv = common.HexToAddress("0xA000000000000000000000000000000000000007")
	tokenT      = common.HexToAddress("0xB000000000000000000000000000000000000001")
	nftAddr     = common.HexToAddress("0xC000000000000000000000000000000000000001")
	sharedAddr  = common.HexToAddress("0xC000000000000000000000000000000000000002")
)

const (
	feeBps     = 250
	royaltyBps = 250
)

func bi(v int64) *big.Int { return big.NewInt(v) }

// oneToken is 1.0 in 18-decimal base units.
func oneToken() *big.Int {
	v, _ := new(big.Int).SetString("1000000000000000000", 10)
	return v
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time       { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clk     *clock
	auth    *admin.Authority
	assets  *asset.Registry
	funds   *ledger.Ledger
	market  *market.Manager
	orders  *Manager
	single  *asset.SingleCollection
	shared  *asset.SharedCollection
	events  []domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{t: time.Unix(1_700_000_000, 0)}

	auth := admin.New([]common.Address{adminAddr})
	if err := auth.SetPermittedPaymentToken(adminAddr, tokenT, true); err != nil {
		t.Fatalf("permit token: %v", err)
	}
	if err := auth.SetPermittedNFT(adminAddr, nftAddr, true); err != nil {
		t.Fatalf("permit nft: %v", err)
	}
	if err := auth.SetPermittedNFT(adminAddr, sharedAddr, true); err != nil {
		t.Fatalf("permit shared nft: %v", err)
	}

	assets := asset.NewRegistry()
	single := asset.NewSingleCollection()
	single.SetDefaultRoyalty(royaltyRecv, royaltyBps)
	if err := single.Mint(sellerAddr, bi(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	assets.Register(nftAddr, single)

	shared := asset.NewSharedCollection()
	shared.Mint(sellerAddr, bi(7), bi(100))
	assets.Register(sharedAddr, shared)

	funds := ledger.New()

	mkt, cap := market.NewManager(assets, auth, logger, market.WithClock(clk.Now))

	f := &fixture{
		clk:    clk,
		auth:   auth,
		assets: assets,
		funds:  funds,
		market: mkt,
		single: single,
		shared: shared,
	}
	f.orders = NewManager(mkt, cap, assets, auth, funds, Config{
		Treasury: treasury,
		FeeBps:   feeBps,
	}, logger, WithClock(clk.Now), WithEmitter(func(ev domain.Event) {
		f.events = append(f.events, ev)
	}))
	return f
}

// fund credits a token balance and approves the order escrow for it.
func (f *fixture) fund(account common.Address, amount *big.Int) {
	f.funds.Deposit(tokenT, account, amount)
	f.funds.Approve(tokenT, account, EscrowAddress, amount)
}

// list creates a listing for token #1 at 1.0 T over a one-week window
// starting 10s from now, and returns its id.
func (f *fixture) list(t *testing.T) uint64 {
	t.Helper()
	start := f.clk.Now().Add(10 * time.Second)
	end := f.clk.Now().Add(7 * 24 * time.Hour)
	id, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(1), oneToken(), start, end, tokenT, domain.EmptyRoot)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	return id
}

func TestSell(t *testing.T) {
	t.Run("creates free listing and escrows the asset", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)

		item, err := f.market.Item(id)
		if err != nil {
			t.Fatalf("item: %v", err)
		}
		if item.Status != domain.MarketItemFree {
			t.Errorf("status = %s, want free", item.Status)
		}
		if item.Standard != domain.StandardSingle {
			t.Errorf("standard = %s, want single", item.Standard)
		}
		owner, err := f.single.OwnerOf(bi(1))
		if err != nil {
			t.Fatalf("ownerOf: %v", err)
		}
		if owner != market.EscrowAddress {
			t.Errorf("token owner = %s, want marketplace escrow", owner.Hex())
		}
	})

	t.Run("shared-supply listing escrows exactly amount", func(t *testing.T) {
		f := newFixture(t)
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		_, err := f.orders.Sell(sellerAddr, sharedAddr, bi(7), bi(40), oneToken(), start, end, tokenT, domain.EmptyRoot)
		if err != nil {
			t.Fatalf("sell: %v", err)
		}
		if got := f.shared.BalanceOf(market.EscrowAddress, bi(7)); got.Cmp(bi(40)) != 0 {
			t.Errorf("escrow balance = %s, want 40", got)
		}
		if got := f.shared.BalanceOf(sellerAddr, bi(7)); got.Cmp(bi(60)) != 0 {
			t.Errorf("seller balance = %s, want 60", got)
		}
	})

	t.Run("rejects seller who does not hold the asset", func(t *testing.T) {
		f := newFixture(t)
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		_, err := f.orders.Sell(buyerAddr, nftAddr, bi(1), bi(1), oneToken(), start, end, tokenT, domain.EmptyRoot)
		if !errors.Is(err, domain.ErrUserDoesNotOwnToken) {
			t.Errorf("err = %v, want ErrUserDoesNotOwnToken", err)
		}
	})

	t.Run("rejects zero amount and zero price", func(t *testing.T) {
		f := newFixture(t)
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		if _, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(0), oneToken(), start, end, tokenT, domain.EmptyRoot); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("zero amount err = %v, want ErrInvalidAmount", err)
		}
		if _, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(1), bi(0), start, end, tokenT, domain.EmptyRoot); !errors.Is(err, domain.ErrInvalidPrice) {
			t.Errorf("zero price err = %v, want ErrInvalidPrice", err)
		}
	})

	t.Run("rejects unknown asset contract", func(t *testing.T) {
		f := newFixture(t)
		unknown := common.HexToAddress("0xDEAD000000000000000000000000000000000001")
		if err := f.auth.SetPermittedNFT(adminAddr, unknown, true); err != nil {
			t.Fatalf("permit: %v", err)
		}
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		_, err := f.orders.Sell(sellerAddr, unknown, bi(1), bi(1), oneToken(), start, end, tokenT, domain.EmptyRoot)
		if !errors.Is(err, domain.ErrTokenNotExisted) {
			t.Errorf("err = %v, want ErrTokenNotExisted", err)
		}
	})

	t.Run("rejects unpermitted payment token", func(t *testing.T) {
		f := newFixture(t)
		other := common.HexToAddress("0xB000000000000000000000000000000000000099")
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		_, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(1), oneToken(), start, end, other, domain.EmptyRoot)
		if !errors.Is(err, domain.ErrPaymentTokenNotPermitted) {
			t.Errorf("err = %v, want ErrPaymentTokenNotPermitted", err)
		}
	})
}

func TestBuy(t *testing.T) {
	t.Run("splits payment between treasury, royalty receiver, and seller", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(buyerAddr, oneToken())
		f.clk.Advance(20 * time.Second)

		if err := f.orders.Buy(buyerAddr, id, nil, nil); err != nil {
			t.Fatalf("buy: %v", err)
		}

		item, _ := f.market.Item(id)
		if item.Status != domain.MarketItemSold {
			t.Errorf("status = %s, want sold", item.Status)
		}
		owner, _ := f.single.OwnerOf(bi(1))
		if owner != buyerAddr {
			t.Errorf("token owner = %s, want buyer", owner.Hex())
		}

		// 1.0 T at 2.5% marketplace fee, 2.5% royalty on the remainder.
		wantFee, _ := new(big.Int).SetString("25000000000000000", 10)
		wantRoyalty, _ := new(big.Int).SetString("24375000000000000", 10)
		wantSeller, _ := new(big.Int).SetString("950625000000000000", 10)

		if got := f.funds.BalanceOf(tokenT, treasury); got.Cmp(wantFee) != 0 {
			t.Errorf("treasury = %s, want %s", got, wantFee)
		}
		if got := f.funds.BalanceOf(tokenT, royaltyRecv); got.Cmp(wantRoyalty) != 0 {
			t.Errorf("royalty receiver = %s, want %s", got, wantRoyalty)
		}
		if got := f.funds.BalanceOf(tokenT, sellerAddr); got.Cmp(wantSeller) != 0 {
			t.Errorf("seller = %s, want %s", got, wantSeller)
		}
		if got := f.funds.BalanceOf(tokenT, buyerAddr); got.Sign() != 0 {
			t.Errorf("buyer = %s, want 0", got)
		}
	})

	t.Run("fee conservation", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(buyerAddr, oneToken())
		f.clk.Advance(20 * time.Second)

		if err := f.orders.Buy(buyerAddr, id, nil, nil); err != nil {
			t.Fatalf("buy: %v", err)
		}

		sum := new(big.Int)
		sum.Add(sum, f.funds.BalanceOf(tokenT, treasury))
		sum.Add(sum, f.funds.BalanceOf(tokenT, royaltyRecv))
		sum.Add(sum, f.funds.BalanceOf(tokenT, sellerAddr))
		if sum.Cmp(oneToken()) != 0 {
			t.Errorf("fee split sum = %s, want %s", sum, oneToken())
		}
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Sign() != 0 {
			t.Errorf("escrow residue = %s, want 0", got)
		}
	})

	t.Run("rejects buy before the window opens", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(buyerAddr, oneToken())

		err := f.orders.Buy(buyerAddr, id, nil, nil)
		if !errors.Is(err, domain.ErrNotTheOrderTime) {
			t.Errorf("err = %v, want ErrNotTheOrderTime", err)
		}
		item, _ := f.market.Item(id)
		if item.Status != domain.MarketItemFree {
			t.Errorf("status changed on failed buy: %s", item.Status)
		}
	})

	t.Run("rejects buy after the window closes", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(buyerAddr, oneToken())
		f.clk.Advance(8 * 24 * time.Hour)

		err := f.orders.Buy(buyerAddr, id, nil, nil)
		if !errors.Is(err, domain.ErrNotTheOrderTime) {
			t.Errorf("err = %v, want ErrNotTheOrderTime", err)
		}
	})

	t.Run("seller cannot buy own item", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(sellerAddr, oneToken())
		f.clk.Advance(20 * time.Second)

		err := f.orders.Buy(sellerAddr, id, nil, nil)
		if !errors.Is(err, domain.ErrCannotBuyOwnItem) {
			t.Errorf("err = %v, want ErrCannotBuyOwnItem", err)
		}
	})

	t.Run("second buy fails with state conflict", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.fund(buyerAddr, oneToken())
		f.fund(bidderC, oneToken())
		f.clk.Advance(20 * time.Second)

		if err := f.orders.Buy(buyerAddr, id, nil, nil); err != nil {
			t.Fatalf("first buy: %v", err)
		}
		err := f.orders.Buy(bidderC, id, nil, nil)
		if !errors.Is(err, domain.ErrItemNotAvailable) {
			t.Errorf("err = %v, want ErrItemNotAvailable", err)
		}
	})

	t.Run("insufficient allowance leaves listing free", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.funds.Deposit(tokenT, buyerAddr, oneToken())
		f.clk.Advance(20 * time.Second)

		err := f.orders.Buy(buyerAddr, id, nil, nil)
		if !errors.Is(err, domain.ErrInsufficientAllowance) {
			t.Errorf("err = %v, want ErrInsufficientAllowance", err)
		}
		item, _ := f.market.Item(id)
		if item.Status != domain.MarketItemFree {
			t.Errorf("status = %s, want free", item.Status)
		}
	})
}

func TestBuyNative(t *testing.T) {
	newNativeListing := func(t *testing.T, f *fixture) uint64 {
		t.Helper()
		start := f.clk.Now().Add(10 * time.Second)
		end := f.clk.Now().Add(time.Hour)
		id, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(1), bi(1000), start, end, domain.NativeToken, domain.EmptyRoot)
		if err != nil {
			t.Fatalf("sell: %v", err)
		}
		return id
	}

	t.Run("exact value settles", func(t *testing.T) {
		f := newFixture(t)
		id := newNativeListing(t, f)
		f.funds.Deposit(domain.NativeToken, buyerAddr, bi(1000))
		f.clk.Advance(20 * time.Second)

		if err := f.orders.Buy(buyerAddr, id, nil, bi(1000)); err != nil {
			t.Fatalf("buy: %v", err)
		}
		// 1000 at 2.5%: fee 25, royalty floor(975*250/10000)=24, seller 926.
		if got := f.funds.BalanceOf(domain.NativeToken, treasury); got.Cmp(bi(25)) != 0 {
			t.Errorf("treasury = %s, want 25", got)
		}
		if got := f.funds.BalanceOf(domain.NativeToken, royaltyRecv); got.Cmp(bi(24)) != 0 {
			t.Errorf("royalty = %s, want 24", got)
		}
		if got := f.funds.BalanceOf(domain.NativeToken, sellerAddr); got.Cmp(bi(926)) != 0 {
			t.Errorf("seller = %s, want 926", got)
		}
	})

	t.Run("value mismatch is rejected with no state change", func(t *testing.T) {
		f := newFixture(t)
		id := newNativeListing(t, f)
		f.funds.Deposit(domain.NativeToken, buyerAddr, bi(5000))
		f.clk.Advance(20 * time.Second)

		for _, value := range []*big.Int{bi(999), bi(1001), nil} {
			if err := f.orders.Buy(buyerAddr, id, nil, value); !errors.Is(err, domain.ErrNotEnoughFee) {
				t.Errorf("value %v: err = %v, want ErrNotEnoughFee", value, err)
			}
		}
		if got := f.funds.BalanceOf(domain.NativeToken, buyerAddr); got.Cmp(bi(5000)) != 0 {
			t.Errorf("buyer balance = %s, want untouched 5000", got)
		}
	})
}

func TestBuyWhitelist(t *testing.T) {
	f := newFixture(t)

	tree, err := merkle.NewTree([]common.Address{buyerAddr, bidderC})
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	start := f.clk.Now().Add(10 * time.Second)
	end := f.clk.Now().Add(time.Hour)
	id, err := f.orders.Sell(sellerAddr, nftAddr, bi(1), bi(1), oneToken(), start, end, tokenT, tree.Root())
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	f.clk.Advance(20 * time.Second)

	t.Run("non-member is rejected", func(t *testing.T) {
		f.fund(bidderD, oneToken())
		if err := f.orders.Buy(bidderD, id, nil, nil); !errors.Is(err, domain.ErrNotPermitted) {
			t.Errorf("err = %v, want ErrNotPermitted", err)
		}
	})

	t.Run("member with wrong proof is rejected", func(t *testing.T) {
		f.fund(buyerAddr, oneToken())
		bad := []common.Hash{merkle.Leaf(bidderD)}
		if err := f.orders.Buy(buyerAddr, id, bad, nil); !errors.Is(err, domain.ErrNotPermitted) {
			t.Errorf("err = %v, want ErrNotPermitted", err)
		}
	})

	t.Run("member with valid proof buys", func(t *testing.T) {
		proof, err := tree.ProofFor(buyerAddr)
		if err != nil {
			t.Fatalf("proof: %v", err)
		}
		if err := f.orders.Buy(buyerAddr, id, proof, nil); err != nil {
			t.Fatalf("buy: %v", err)
		}
	})
}

func TestMakeWalletOrder(t *testing.T) {
	expiry := func(f *fixture) time.Time { return f.clk.Now().Add(time.Hour) }

	t.Run("escrows the bid", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, oneToken())
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, oneToken(), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		order, err := f.orders.WalletOrder(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if order.Status != domain.OrderPending {
			t.Errorf("status = %s, want pending", order.Status)
		}
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Cmp(oneToken()) != 0 {
			t.Errorf("escrow = %s, want 1.0", got)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Sign() != 0 {
			t.Errorf("bidder = %s, want 0", got)
		}
	})

	t.Run("top-up escrows only the delta", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id1, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1000), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil)
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		id2, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1500), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil)
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if id1 != id2 {
			t.Errorf("duplicate offer created new order %d, want top-up of %d", id2, id1)
		}
		// Net escrow equals the latest bid, not the sum.
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Cmp(bi(1500)) != 0 {
			t.Errorf("escrow = %s, want 1500", got)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Cmp(bi(8500)) != 0 {
			t.Errorf("bidder = %s, want 8500", got)
		}
	})

	t.Run("bid reduction refunds the delta", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		if _, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1500), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil); err != nil {
			t.Fatalf("first: %v", err)
		}
		if _, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(900), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil); err != nil {
			t.Fatalf("second: %v", err)
		}
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Cmp(bi(900)) != 0 {
			t.Errorf("escrow = %s, want 900", got)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Cmp(bi(9100)) != 0 {
			t.Errorf("bidder = %s, want 9100", got)
		}
	})

	t.Run("payment token cannot change on a pending order", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		f.funds.Deposit(domain.NativeToken, bidderC, bi(10_000))
		if _, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1000), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil); err != nil {
			t.Fatalf("first: %v", err)
		}
		_, err := f.orders.MakeWalletOrder(bidderC, domain.NativeToken, bi(2000), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), bi(2000))
		if !errors.Is(err, domain.ErrCannotUpdatePaymentToken) {
			t.Errorf("err = %v, want ErrCannotUpdatePaymentToken", err)
		}
	})

	t.Run("self-offer is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.fund(sellerAddr, bi(1000))
		_, err := f.orders.MakeWalletOrder(sellerAddr, tokenT, bi(1000), sellerAddr, nftAddr, bi(1), bi(1), expiry(f), nil)
		if !errors.Is(err, domain.ErrInvalidWallets) {
			t.Errorf("err = %v, want ErrInvalidWallets", err)
		}
	})

	t.Run("target must own the asset", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(1000))
		_, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1000), buyerAddr, nftAddr, bi(1), bi(1), expiry(f), nil)
		if !errors.Is(err, domain.ErrUserDoesNotOwnToken) {
			t.Errorf("err = %v, want ErrUserDoesNotOwnToken", err)
		}
	})

	t.Run("expiry must be in the future", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(1000))
		_, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(1000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(-time.Second), nil)
		if !errors.Is(err, domain.ErrInvalidTimeWindow) {
			t.Errorf("err = %v, want ErrInvalidTimeWindow", err)
		}
	})
}

func TestAcceptWalletOrder(t *testing.T) {
	t.Run("settles asset against escrowed bid", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(10_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}

		if err := f.orders.AcceptWalletOrder(sellerAddr, id); err != nil {
			t.Fatalf("accept: %v", err)
		}

		owner, _ := f.single.OwnerOf(bi(1))
		if owner != bidderC {
			t.Errorf("owner = %s, want bidder", owner.Hex())
		}
		order, _ := f.orders.WalletOrder(id)
		if order.Status != domain.OrderAccepted {
			t.Errorf("status = %s, want accepted", order.Status)
		}
		// 10000: fee 250, royalty floor(9750*250/10000)=243, seller 9507.
		if got := f.funds.BalanceOf(tokenT, sellerAddr); got.Cmp(bi(9507)) != 0 {
			t.Errorf("seller = %s, want 9507", got)
		}
		if got := f.funds.BalanceOf(tokenT, treasury); got.Cmp(bi(250)) != 0 {
			t.Errorf("treasury = %s, want 250", got)
		}
		if got := f.funds.BalanceOf(tokenT, royaltyRecv); got.Cmp(bi(243)) != 0 {
			t.Errorf("royalty = %s, want 243", got)
		}
	})

	t.Run("double accept resolves to exactly one winner", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(10_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := f.orders.AcceptWalletOrder(sellerAddr, id); err != nil {
			t.Fatalf("first accept: %v", err)
		}
		err = f.orders.AcceptWalletOrder(sellerAddr, id)
		if !errors.Is(err, domain.ErrOrderNotPending) {
			t.Errorf("err = %v, want ErrOrderNotPending", err)
		}
	})

	t.Run("expired order cannot be accepted", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(10_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Minute), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		f.clk.Advance(2 * time.Minute)
		err = f.orders.AcceptWalletOrder(sellerAddr, id)
		if !errors.Is(err, domain.ErrOrderExpired) {
			t.Errorf("err = %v, want ErrOrderExpired", err)
		}
	})

	t.Run("only the current holder can accept", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(10_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		err = f.orders.AcceptWalletOrder(buyerAddr, id)
		if !errors.Is(err, domain.ErrUserDoesNotOwnToken) {
			t.Errorf("err = %v, want ErrUserDoesNotOwnToken", err)
		}
	})

	t.Run("competing bids stay pending and refundable after one wins", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		f.fund(bidderD, bi(15_000))
		cID, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(10_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make C: %v", err)
		}
		dID, err := f.orders.MakeWalletOrder(bidderD, tokenT, bi(15_000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make D: %v", err)
		}

		if err := f.orders.AcceptWalletOrder(sellerAddr, cID); err != nil {
			t.Fatalf("accept C: %v", err)
		}

		dOrder, _ := f.orders.WalletOrder(dID)
		if dOrder.Status != domain.OrderPending {
			t.Errorf("D status = %s, want pending", dOrder.Status)
		}
		if err := f.orders.CancelWalletOrder(bidderD, dID); err != nil {
			t.Fatalf("cancel D: %v", err)
		}
		if got := f.funds.BalanceOf(tokenT, bidderD); got.Cmp(bi(15_000)) != 0 {
			t.Errorf("D refund = %s, want exactly 15000", got)
		}
	})
}

func TestCancelWalletOrder(t *testing.T) {
	t.Run("refunds exactly the escrowed bid", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(7000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := f.orders.CancelWalletOrder(bidderC, id); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Cmp(bi(10_000)) != 0 {
			t.Errorf("bidder = %s, want full 10000 back", got)
		}
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Sign() != 0 {
			t.Errorf("escrow residue = %s, want 0", got)
		}
	})

	t.Run("only the bidder can cancel", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(7000))
		id, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(7000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		err = f.orders.CancelWalletOrder(sellerAddr, id)
		if !errors.Is(err, domain.ErrNotOwnerOfOffer) {
			t.Errorf("err = %v, want ErrNotOwnerOfOffer", err)
		}
	})

	t.Run("re-offer after cancel creates a new order", func(t *testing.T) {
		f := newFixture(t)
		f.fund(bidderC, bi(10_000))
		id1, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(5000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := f.orders.CancelWalletOrder(bidderC, id1); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		id2, err := f.orders.MakeWalletOrder(bidderC, tokenT, bi(6000), sellerAddr, nftAddr, bi(1), bi(1), f.clk.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("re-offer: %v", err)
		}
		if id2 == id1 {
			t.Errorf("re-offer reused canceled order id %d", id1)
		}
	})
}

func TestMarketItemOrders(t *testing.T) {
	t.Run("accept settles escrowed asset against escrowed bid", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, bi(10_000))

		orderID, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := f.orders.AcceptMarketItemOrder(sellerAddr, orderID); err != nil {
			t.Fatalf("accept: %v", err)
		}

		item, _ := f.market.Item(itemID)
		if item.Status != domain.MarketItemSold {
			t.Errorf("item status = %s, want sold", item.Status)
		}
		order, _ := f.orders.MarketItemOrder(orderID)
		if order.Status != domain.OrderAccepted {
			t.Errorf("order status = %s, want accepted", order.Status)
		}
		owner, _ := f.single.OwnerOf(bi(1))
		if owner != bidderC {
			t.Errorf("owner = %s, want bidder", owner.Hex())
		}
		if got := f.funds.BalanceOf(tokenT, sellerAddr); got.Cmp(bi(9507)) != 0 {
			t.Errorf("seller = %s, want 9507", got)
		}
	})

	t.Run("offer on inactive listing is rejected", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.fund(bidderC, bi(10_000))

		// Before the window opens.
		_, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil)
		if !errors.Is(err, domain.ErrNotTheOrderTime) {
			t.Errorf("err = %v, want ErrNotTheOrderTime", err)
		}
	})

	t.Run("only the listing seller can accept", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, bi(10_000))

		orderID, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		err = f.orders.AcceptMarketItemOrder(buyerAddr, orderID)
		if !errors.Is(err, domain.ErrNotSeller) {
			t.Errorf("err = %v, want ErrNotSeller", err)
		}
	})

	t.Run("top-up keeps a single pending order per bidder and listing", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, bi(10_000))

		id1, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(4000), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		id2, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(6000), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if id1 != id2 {
			t.Errorf("duplicate offer created order %d, want top-up of %d", id2, id1)
		}
		if got := f.funds.BalanceOf(tokenT, EscrowAddress); got.Cmp(bi(6000)) != 0 {
			t.Errorf("escrow = %s, want 6000", got)
		}
	})

	t.Run("accept fails cleanly after the listing sold to someone else", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, oneToken())

		orderID, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, oneToken(), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}

		// A direct buy settles the listing while the offer sits pending.
		f.fund(buyerAddr, oneToken())
		if err := f.orders.Buy(buyerAddr, itemID, nil, nil); err != nil {
			t.Fatalf("buy: %v", err)
		}

		err = f.orders.AcceptMarketItemOrder(sellerAddr, orderID)
		if !errors.Is(err, domain.ErrItemNotAvailable) {
			t.Errorf("err = %v, want ErrItemNotAvailable", err)
		}
		order, _ := f.orders.MarketItemOrder(orderID)
		if order.Status != domain.OrderPending {
			t.Errorf("order status = %s, want pending", order.Status)
		}

		if err := f.orders.CancelMarketItemOrder(bidderC, orderID); err != nil {
			t.Fatalf("cancel after failed accept: %v", err)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Cmp(oneToken()) != 0 {
			t.Errorf("bidder balance = %s, want full refund %s", got, oneToken())
		}
	})

	t.Run("accept fails cleanly after the listing was canceled", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, bi(10_000))

		orderID, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := f.orders.CancelSell(sellerAddr, itemID); err != nil {
			t.Fatalf("cancel sell: %v", err)
		}

		err = f.orders.AcceptMarketItemOrder(sellerAddr, orderID)
		if !errors.Is(err, domain.ErrItemNotAvailable) {
			t.Errorf("err = %v, want ErrItemNotAvailable", err)
		}
		order, _ := f.orders.MarketItemOrder(orderID)
		if order.Status != domain.OrderPending {
			t.Errorf("order status = %s, want pending", order.Status)
		}
		if err := f.orders.CancelMarketItemOrder(bidderC, orderID); err != nil {
			t.Fatalf("cancel after failed accept: %v", err)
		}
		if got := f.funds.BalanceOf(tokenT, bidderC); got.Cmp(bi(10_000)) != 0 {
			t.Errorf("bidder balance = %s, want 10000", got)
		}
	})

	t.Run("membership gate applies", func(t *testing.T) {
		f := newFixture(t)
		itemID := f.list(t)
		f.clk.Advance(20 * time.Second)
		f.fund(bidderC, bi(10_000))
		if err := f.auth.SetMembershipRequired(adminAddr, true); err != nil {
			t.Fatalf("set membership: %v", err)
		}

		_, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil)
		if !errors.Is(err, domain.ErrNotPermitted) {
			t.Errorf("err = %v, want ErrNotPermitted", err)
		}

		if err := f.auth.SetMember(adminAddr, bidderC, true); err != nil {
			t.Fatalf("set member: %v", err)
		}
		if _, err := f.orders.MakeMarketItemOrder(bidderC, itemID, tokenT, bi(10_000), f.clk.Now().Add(time.Hour), nil, nil); err != nil {
			t.Errorf("member offer: %v", err)
		}
	})
}

func TestCancelSell(t *testing.T) {
	t.Run("releases escrow back to seller", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		if err := f.orders.CancelSell(sellerAddr, id); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		item, _ := f.market.Item(id)
		if item.Status != domain.MarketItemCanceled {
			t.Errorf("status = %s, want canceled", item.Status)
		}
		owner, _ := f.single.OwnerOf(bi(1))
		if owner != sellerAddr {
			t.Errorf("owner = %s, want seller", owner.Hex())
		}
	})

	t.Run("only the seller may cancel", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		if err := f.orders.CancelSell(buyerAddr, id); !errors.Is(err, domain.ErrNotSeller) {
			t.Errorf("err = %v, want ErrNotSeller", err)
		}
	})
}

func TestSellAvailableInMarketplace(t *testing.T) {
	t.Run("rejects relist before the window expires", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.clk.Advance(time.Hour)
		err := f.orders.SellAvailableInMarketplace(sellerAddr, id, bi(2000), bi(1), f.clk.Now(), f.clk.Now().Add(time.Hour), tokenT)
		if !errors.Is(err, domain.ErrNotExpiredYet) {
			t.Errorf("err = %v, want ErrNotExpiredYet", err)
		}
	})

	t.Run("relists expired listing with new terms", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.clk.Advance(8 * 24 * time.Hour)

		start := f.clk.Now()
		end := start.Add(time.Hour)
		if err := f.orders.SellAvailableInMarketplace(sellerAddr, id, bi(2000), bi(1), start, end, domain.NativeToken); err != nil {
			t.Fatalf("relist: %v", err)
		}
		item, _ := f.market.Item(id)
		if item.Status != domain.MarketItemFree {
			t.Errorf("status = %s, want free", item.Status)
		}
		if item.Price.Cmp(bi(2000)) != 0 {
			t.Errorf("price = %s, want 2000", item.Price)
		}
		if item.PaymentToken != domain.NativeToken {
			t.Errorf("payment token = %s, want native", item.PaymentToken.Hex())
		}
		// Asset never left escrow.
		owner, _ := f.single.OwnerOf(bi(1))
		if owner != market.EscrowAddress {
			t.Errorf("owner = %s, want escrow", owner.Hex())
		}
	})

	t.Run("only original seller can relist", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(t)
		f.clk.Advance(8 * 24 * time.Hour)
		err := f.orders.SellAvailableInMarketplace(buyerAddr, id, bi(2000), bi(1), f.clk.Now(), f.clk.Now().Add(time.Hour), tokenT)
		if !errors.Is(err, domain.ErrNotSeller) {
			t.Errorf("err = %v, want ErrNotSeller", err)
		}
	})
}
