// Package market implements the marketplace manager: the single source of
// truth for listings and the escrow custody of listed assets. Every state
// transition of a listing is commanded by the order manager through a
// capability handle; no other caller can mutate the registry.
package market

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/openverse-labs/nftmarket/internal/admin"
	"github.com/openverse-labs/nftmarket/internal/asset"
	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/merkle"
)

// EscrowAddress is the account under which the marketplace holds listed
// assets between listing and settlement.
var EscrowAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("nftmarket/marketplace-escrow"))[12:])

// Manager owns the market-item registry.
type Manager struct {
	assets *asset.Registry
	admin  *admin.Authority
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	nextID  uint64
	items   map[uint64]*domain.MarketItem
	granted bool
	emit    func(domain.Event)
}

// Capability is the mutation handle over the registry. It is granted exactly
// once, to the order manager, so arbitrary callers cannot flip listing state.
type Capability struct {
	m *Manager
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEmitter attaches an event sink for registry-level transitions such as
// whitelist root rotations.
func WithEmitter(emit func(domain.Event)) Option {
	return func(m *Manager) { m.emit = emit }
}

// NewManager creates the manager together with its one mutation capability.
func NewManager(assets *asset.Registry, authority *admin.Authority, logger *slog.Logger, opts ...Option) (*Manager, Capability) {
	m := &Manager{
		assets: assets,
		admin:  authority,
		logger: logger,
		now:    time.Now,
		items:  make(map[uint64]*domain.MarketItem),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.granted = true
	return m, Capability{m: m}
}

// Item returns a copy of the listing with the given id.
func (m *Manager) Item(id uint64) (domain.MarketItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return domain.MarketItem{}, fmt.Errorf("market: item %d: %w", id, domain.ErrNotFound)
	}
	return *item, nil
}

// Items returns all listings, most recent first.
func (m *Manager) Items() []domain.MarketItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MarketItem, 0, len(m.items))
	for id := m.nextID; id >= 1; id-- {
		if item, ok := m.items[id]; ok {
			out = append(out, *item)
		}
	}
	return out
}

// ActiveItems returns listings currently purchasable.
func (m *Manager) ActiveItems() []domain.MarketItem {
	now := m.now()
	var out []domain.MarketItem
	for _, item := range m.Items() {
		if item.ActiveAt(now) {
			out = append(out, item)
		}
	}
	return out
}

// Count returns the number of listings ever created.
func (m *Manager) Count() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID
}

// RoyaltyOf delegates the royalty lookup to the asset registry. Assets with
// no royalty configured yield the zero address and a zero amount.
func (m *Manager) RoyaltyOf(nftContract common.Address, tokenID, salePrice *big.Int) (common.Address, *big.Int, error) {
	receiver, amount, err := m.assets.Royalty(nftContract, tokenID, salePrice)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("market: royalty of %s/%s: %w", nftContract.Hex(), tokenID, err)
	}
	return receiver, amount, nil
}

// VerifyWhitelist checks proof membership of addr against the listing's
// committed root. Listings with an empty root are public and always pass.
func (m *Manager) VerifyWhitelist(id uint64, proof []common.Hash, addr common.Address) (bool, error) {
	item, err := m.Item(id)
	if err != nil {
		return false, err
	}
	if item.Public() {
		return true, nil
	}
	return merkle.Verify(item.RootHash, proof, addr), nil
}

// SetWhitelistRoot rotates oldRoot to newRoot on every free listing that
// still commits to oldRoot. Admin only.
func (m *Manager) SetWhitelistRoot(caller common.Address, oldRoot, newRoot common.Hash) error {
	if !m.admin.IsAdmin(caller) {
		return fmt.Errorf("market: set whitelist root: %w", domain.ErrNotAdmin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rotated := 0
	for _, item := range m.items {
		if item.Status == domain.MarketItemFree && item.RootHash == oldRoot {
			item.RootHash = newRoot
			item.UpdatedAt = m.now()
			rotated++
		}
	}

	m.logger.Info("market: whitelist root rotated",
		slog.String("old_root", oldRoot.Hex()),
		slog.String("new_root", newRoot.Hex()),
		slog.Int("listings", rotated),
	)
	if m.emit != nil {
		m.emit(domain.Event{
			Type: domain.EventRootRotated,
			At:   m.now(),
			Detail: map[string]any{
				"caller":   caller.Hex(),
				"old_root": oldRoot.Hex(),
				"new_root": newRoot.Hex(),
				"listings": rotated,
			},
		})
	}
	return nil
}

// --------------------------------------------------------------------------
// Capability-gated mutators. Only the order manager holds a Capability, so
// these are the only paths that change listing state.
// --------------------------------------------------------------------------

// CreateListing validates terms, pulls the asset from the seller into escrow
// using the auto-detected standard, and records a new free listing. The
// standard is resolved by probing the contract's declared capability, never
// from a caller-supplied flag.
func (c Capability) CreateListing(seller common.Address, nftContract common.Address, tokenID, amount, price *big.Int, start, end time.Time, paymentToken common.Address, root common.Hash) (uint64, error) {
	m := c.m
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("market: create listing: %w", domain.ErrInvalidAmount)
	}
	if price == nil || price.Sign() <= 0 {
		return 0, fmt.Errorf("market: create listing: %w", domain.ErrInvalidPrice)
	}
	if !start.Before(end) {
		return 0, fmt.Errorf("market: create listing: %w", domain.ErrInvalidTimeWindow)
	}
	if !m.admin.IsPermittedPaymentToken(paymentToken) {
		return 0, fmt.Errorf("market: create listing: token %s: %w", paymentToken.Hex(), domain.ErrPaymentTokenNotPermitted)
	}
	if !m.admin.IsPermittedNFT(nftContract) {
		return 0, fmt.Errorf("market: create listing: nft %s: %w", nftContract.Hex(), domain.ErrNotPermitted)
	}

	_, standard, err := m.assets.Probe(nftContract)
	if err != nil {
		return 0, fmt.Errorf("market: create listing: %w", err)
	}
	if standard == domain.StandardSingle && amount.Cmp(big.NewInt(1)) != 0 {
		return 0, fmt.Errorf("market: create listing: single-owner amount must be 1: %w", domain.ErrInvalidAmount)
	}

	// Escrow pull. The asset contract rejects the transfer if the seller
	// does not hold the amount.
	if err := m.assets.Move(nftContract, seller, EscrowAddress, tokenID, amount); err != nil {
		return 0, fmt.Errorf("market: escrow pull: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	item := &domain.MarketItem{
		ID:           m.nextID,
		NFTContract:  nftContract,
		TokenID:      new(big.Int).Set(tokenID),
		Amount:       new(big.Int).Set(amount),
		Price:        new(big.Int).Set(price),
		Seller:       seller,
		PaymentToken: paymentToken,
		StartTime:    start,
		EndTime:      end,
		Status:       domain.MarketItemFree,
		RootHash:     root,
		Standard:     standard,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.items[item.ID] = item

	m.logger.Info("market: listing created",
		slog.Uint64("market_item_id", item.ID),
		slog.String("seller", seller.Hex()),
		slog.String("nft", nftContract.Hex()),
		slog.String("token_id", tokenID.String()),
		slog.String("price", price.String()),
	)
	return item.ID, nil
}

// Relist resets an expired free listing to new terms on behalf of its
// original seller. The asset stays in escrow; if the new amount is smaller
// the difference is released back to the seller so escrow always matches the
// listed amount.
func (c Capability) Relist(seller common.Address, id uint64, newPrice, newAmount *big.Int, newStart, newEnd time.Time, newPaymentToken common.Address) error {
	m := c.m
	if newAmount == nil || newAmount.Sign() <= 0 {
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrInvalidAmount)
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrInvalidPrice)
	}
	if !newStart.Before(newEnd) {
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrInvalidTimeWindow)
	}
	if !m.admin.IsPermittedPaymentToken(newPaymentToken) {
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrPaymentTokenNotPermitted)
	}

	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrNotFound)
	}
	if item.Seller != seller {
		m.mu.Unlock()
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrNotSeller)
	}
	if item.Status != domain.MarketItemFree {
		m.mu.Unlock()
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrItemNotAvailable)
	}
	if !item.ExpiredAt(m.now()) {
		m.mu.Unlock()
		return fmt.Errorf("market: relist %d: %w", id, domain.ErrNotExpiredYet)
	}
	if newAmount.Cmp(item.Amount) > 0 {
		m.mu.Unlock()
		return fmt.Errorf("market: relist %d: amount exceeds escrow: %w", id, domain.ErrInvalidAmount)
	}

	release := new(big.Int).Sub(item.Amount, newAmount)
	item.Price = new(big.Int).Set(newPrice)
	item.Amount = new(big.Int).Set(newAmount)
	item.StartTime = newStart
	item.EndTime = newEnd
	item.PaymentToken = newPaymentToken
	item.Status = domain.MarketItemFree
	item.UpdatedAt = m.now()
	nft, tokenID := item.NFTContract, item.TokenID
	m.mu.Unlock()

	if release.Sign() > 0 {
		if err := m.assets.Move(nft, EscrowAddress, seller, tokenID, release); err != nil {
			return fmt.Errorf("market: relist %d: release surplus: %w", id, err)
		}
	}

	m.logger.Info("market: listing relisted",
		slog.Uint64("market_item_id", id),
		slog.String("price", newPrice.String()),
	)
	return nil
}

// MarkSold flips a free listing to sold. State changes before any asset or
// fund transfer happens, so a failed transfer cannot be replayed against a
// still-free listing.
func (c Capability) MarkSold(id uint64) error {
	return c.m.setStatus(id, domain.MarketItemFree, domain.MarketItemSold)
}

// MarkCanceled flips a free listing to canceled and releases the escrowed
// asset back to the seller.
func (c Capability) MarkCanceled(id uint64) error {
	m := c.m
	if err := m.setStatus(id, domain.MarketItemFree, domain.MarketItemCanceled); err != nil {
		return err
	}

	m.mu.RLock()
	item := m.items[id]
	nft, tokenID, amount, seller := item.NFTContract, item.TokenID, item.Amount, item.Seller
	m.mu.RUnlock()

	if err := m.assets.Move(nft, EscrowAddress, seller, tokenID, amount); err != nil {
		return fmt.Errorf("market: cancel %d: release escrow: %w", id, err)
	}
	return nil
}

// Deliver moves the escrowed asset of a settled listing to the buyer.
func (c Capability) Deliver(id uint64, to common.Address) error {
	m := c.m
	m.mu.RLock()
	item, ok := m.items[id]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("market: deliver %d: %w", id, domain.ErrNotFound)
	}
	nft, tokenID, amount := item.NFTContract, item.TokenID, item.Amount
	m.mu.RUnlock()

	if err := m.assets.Move(nft, EscrowAddress, to, tokenID, amount); err != nil {
		return fmt.Errorf("market: deliver %d: %w", id, err)
	}
	return nil
}

func (m *Manager) setStatus(id uint64, from, to domain.MarketItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("market: item %d: %w", id, domain.ErrNotFound)
	}
	if item.Status != from {
		return fmt.Errorf("market: item %d is %s: %w", id, item.Status, domain.ErrItemNotAvailable)
	}
	item.Status = to
	item.UpdatedAt = m.now()
	return nil
}
