package app

import (
	"context"
	"encoding/json"
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
	"github.com/openverse-labs/nftmarket/internal/notify"
	"github.com/openverse-labs/nftmarket/internal/order"
)

var (
	testAdmin    = common.HexToAddress("0xA000000000000000000000000000000000000001")
	testSeller   = common.HexToAddress("0xA000000000000000000000000000000000000002")
	testBuyer    = common.HexToAddress("0xA000000000000000000000000000000000000003")
	testTreasury = common.HexToAddress("0xA000000000000000000000000000000000000004")
	testToken    = common.HexToAddress("0xB000000000000000000000000000000000000001")
	testNFT      = common.HexToAddress("0xC000000000000000000000000000000000000001")
)

// In-memory store fakes. They record writes so tests can assert on the
// relay's fan-out without Postgres or Redis.

type memItems struct{ items map[uint64]domain.MarketItem }

func (s *memItems) Upsert(_ context.Context, item domain.MarketItem) error {
	s.items[item.ID] = item
	return nil
}
func (s *memItems) GetByID(_ context.Context, id uint64) (domain.MarketItem, error) {
	it, ok := s.items[id]
	if !ok {
		return domain.MarketItem{}, domain.ErrNotFound
	}
	return it, nil
}
func (s *memItems) ListBySeller(context.Context, string, domain.ListOpts) ([]domain.MarketItem, error) {
	return nil, nil
}
func (s *memItems) ListByStatus(context.Context, domain.MarketItemStatus, domain.ListOpts) ([]domain.MarketItem, error) {
	return nil, nil
}
func (s *memItems) Count(context.Context) (int64, error) { return int64(len(s.items)), nil }

type memWalletOrders struct{ orders map[uint64]domain.WalletOrder }

func (s *memWalletOrders) Upsert(_ context.Context, o domain.WalletOrder) error {
	s.orders[o.ID] = o
	return nil
}
func (s *memWalletOrders) GetByID(_ context.Context, id uint64) (domain.WalletOrder, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.WalletOrder{}, domain.ErrNotFound
	}
	return o, nil
}
func (s *memWalletOrders) ListByOwner(context.Context, string, domain.ListOpts) ([]domain.WalletOrder, error) {
	return nil, nil
}

type memMarketOrders struct{ orders map[uint64]domain.MarketItemOrder }

func (s *memMarketOrders) Upsert(_ context.Context, o domain.MarketItemOrder) error {
	s.orders[o.ID] = o
	return nil
}
func (s *memMarketOrders) GetByID(_ context.Context, id uint64) (domain.MarketItemOrder, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.MarketItemOrder{}, domain.ErrNotFound
	}
	return o, nil
}
func (s *memMarketOrders) ListByMarketItem(context.Context, uint64, domain.ListOpts) ([]domain.MarketItemOrder, error) {
	return nil, nil
}

type memSettlements struct{ settlements []domain.Settlement }

func (s *memSettlements) Insert(_ context.Context, st domain.Settlement) error {
	s.settlements = append(s.settlements, st)
	return nil
}
func (s *memSettlements) GetByID(context.Context, string) (domain.Settlement, error) {
	return domain.Settlement{}, domain.ErrNotFound
}
func (s *memSettlements) ListRecent(context.Context, int) ([]domain.Settlement, error) {
	return nil, nil
}

type memAudit struct{ entries []domain.AuditEntry }

func (s *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	s.entries = append(s.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}
func (s *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct{ messages []published }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.messages = append(b.messages, published{channel: channel, payload: payload})
	return nil
}
func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	return ch, func() {}, nil
}

type memListingCache struct {
	active      []domain.MarketItem
	set         int
	invalidated int
}

func (c *memListingCache) SetActive(_ context.Context, items []domain.MarketItem) error {
	c.active = items
	c.set++
	return nil
}
func (c *memListingCache) GetActive(context.Context) ([]domain.MarketItem, error) {
	return c.active, nil
}
func (c *memListingCache) Invalidate(context.Context) error {
	c.active = nil
	c.invalidated++
	return nil
}

type relayFixture struct {
	deps        *Dependencies
	relay       *Relay
	items       *memItems
	walletOrds  *memWalletOrders
	marketOrds  *memMarketOrders
	settlements *memSettlements
	audit       *memAudit
	bus         *memBus
	cache       *memListingCache
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authority := admin.New([]common.Address{testAdmin})
	if err := authority.SetPermittedPaymentToken(testAdmin, testToken, true); err != nil {
		t.Fatalf("permit token: %v", err)
	}
	if err := authority.SetPermittedNFT(testAdmin, testNFT, true); err != nil {
		t.Fatalf("permit nft: %v", err)
	}

	assets := asset.NewRegistry()
	single := asset.NewSingleCollection()
	if err := single.Mint(testSeller, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	assets.Register(testNFT, single)

	funds := ledger.New()

	f := &relayFixture{
		items:       &memItems{items: make(map[uint64]domain.MarketItem)},
		walletOrds:  &memWalletOrders{orders: make(map[uint64]domain.WalletOrder)},
		marketOrds:  &memMarketOrders{orders: make(map[uint64]domain.MarketItemOrder)},
		settlements: &memSettlements{},
		audit:       &memAudit{},
		bus:         &memBus{},
		cache:       &memListingCache{},
	}

	deps := &Dependencies{
		Authority:    authority,
		Assets:       assets,
		Funds:        funds,
		Events:       make(chan domain.Event, 64),
		Items:        f.items,
		WalletOrders: f.walletOrds,
		MarketOrders: f.marketOrds,
		Settlements:  f.settlements,
		Audit:        f.audit,
		SignalBus:    f.bus,
		ListingCache: f.cache,
		Notifier:     notify.NewNotifier(nil, nil, logger),
	}

	emit := func(ev domain.Event) { deps.Events <- ev }
	mkt, capToken := market.NewManager(assets, authority, logger, market.WithEmitter(emit))
	deps.Market = mkt
	deps.Engine = order.NewManager(mkt, capToken, assets, authority, funds,
		order.Config{Treasury: testTreasury, FeeBps: 250},
		logger, order.WithEmitter(emit),
	)

	f.deps = deps
	f.relay = NewRelay(deps, logger)
	return f
}

// drain handles every event currently buffered on the relay channel.
func (f *relayFixture) drain(t *testing.T) {
	t.Helper()
	for {
		select {
		case ev := <-f.deps.Events:
			f.relay.handle(context.Background(), ev)
		default:
			return
		}
	}
}

func TestRelayFanOut(t *testing.T) {
	t.Run("listing event journals the item and refreshes the cache", func(t *testing.T) {
		f := newRelayFixture(t)
		start := time.Now().Add(-time.Minute)
		end := time.Now().Add(time.Hour)
		id, err := f.deps.Engine.Sell(testSeller, testNFT, big.NewInt(1), big.NewInt(1),
			big.NewInt(10_000), start, end, testToken, domain.EmptyRoot)
		if err != nil {
			t.Fatalf("sell: %v", err)
		}
		f.drain(t)

		if _, ok := f.items.items[id]; !ok {
			t.Errorf("listing %d not journaled", id)
		}
		if f.cache.set == 0 {
			t.Error("listing cache was not refreshed")
		}
		if len(f.cache.active) != 1 {
			t.Errorf("cached active listings = %d, want 1", len(f.cache.active))
		}
		if len(f.audit.entries) != 1 || f.audit.entries[0].Event != string(domain.EventItemListed) {
			t.Errorf("audit entries = %+v, want one item_listed", f.audit.entries)
		}
	})

	t.Run("buy fans out to listings and settlements channels", func(t *testing.T) {
		f := newRelayFixture(t)
		start := time.Now().Add(-time.Minute)
		end := time.Now().Add(time.Hour)
		id, err := f.deps.Engine.Sell(testSeller, testNFT, big.NewInt(1), big.NewInt(1),
			big.NewInt(10_000), start, end, testToken, domain.EmptyRoot)
		if err != nil {
			t.Fatalf("sell: %v", err)
		}
		f.deps.Funds.Deposit(testToken, testBuyer, big.NewInt(10_000))
		f.deps.Funds.Approve(testToken, testBuyer, order.EscrowAddress, big.NewInt(10_000))
		if err := f.deps.Engine.Buy(testBuyer, id, nil, nil); err != nil {
			t.Fatalf("buy: %v", err)
		}
		f.drain(t)

		if len(f.settlements.settlements) != 1 {
			t.Fatalf("settlements journaled = %d, want 1", len(f.settlements.settlements))
		}
		s := f.settlements.settlements[0]
		if s.Buyer != testBuyer || s.MarketItemID != id {
			t.Errorf("settlement = %+v, want buyer and item recorded", s)
		}

		var sawListings, sawSettlements bool
		for _, msg := range f.bus.messages {
			switch msg.channel {
			case channelListings:
				sawListings = true
			case channelSettlements:
				sawSettlements = true
				var wire map[string]any
				if err := json.Unmarshal(msg.payload, &wire); err != nil {
					t.Fatalf("unmarshal settlement payload: %v", err)
				}
				if wire["type"] != string(domain.EventItemSold) {
					t.Errorf("payload type = %v, want item_sold", wire["type"])
				}
				if _, ok := wire["settlement"]; !ok {
					t.Error("payload missing settlement")
				}
			}
		}
		if !sawListings || !sawSettlements {
			t.Errorf("channels seen: listings=%v settlements=%v, want both", sawListings, sawSettlements)
		}

		// The sold listing is no longer active.
		if len(f.cache.active) != 0 {
			t.Errorf("cached active listings = %d, want 0 after sale", len(f.cache.active))
		}
	})

	t.Run("order events journal the order snapshot", func(t *testing.T) {
		f := newRelayFixture(t)
		f.deps.Funds.Deposit(testToken, testBuyer, big.NewInt(5_000))
		f.deps.Funds.Approve(testToken, testBuyer, order.EscrowAddress, big.NewInt(5_000))

		orderID, err := f.deps.Engine.MakeWalletOrder(testBuyer, testToken, big.NewInt(5_000),
			testSeller, testNFT, big.NewInt(1), big.NewInt(1), time.Now().Add(time.Hour), nil)
		if err != nil {
			t.Fatalf("make wallet order: %v", err)
		}
		f.drain(t)

		o, ok := f.walletOrds.orders[orderID]
		if !ok {
			t.Fatalf("wallet order %d not journaled", orderID)
		}
		if o.Status != domain.OrderPending {
			t.Errorf("journaled status = %s, want pending", o.Status)
		}
		if len(f.bus.messages) != 1 || f.bus.messages[0].channel != channelOrders {
			t.Errorf("bus messages = %+v, want one on %s", f.bus.messages, channelOrders)
		}
	})
}

func TestDetailUint64(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want uint64
		ok   bool
	}{
		{uint64(7), 7, true},
		{int(3), 3, true},
		{int64(9), 9, true},
		{int(-1), 0, false},
		{"7", 0, false},
		{nil, 0, false},
	} {
		got, ok := detailUint64(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("detailUint64(%v) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
