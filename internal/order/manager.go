// Package order implements the order manager: the sole driver of every
// asset and fund movement in the marketplace. It owns the offer registries
// (wallet orders and market-item orders), escrows bids, computes fee splits,
// and commands listing transitions on the marketplace manager through its
// mutation capability.
//
// Every state-changing call runs to completion under one mutex, mirroring
// the serialized execution the settlement model assumes: two competing
// accepts of the same order resolve to exactly one winner because status is
// checked and flipped before any transfer.
package order

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
	"github.com/openverse-labs/nftmarket/internal/ledger"
	"github.com/openverse-labs/nftmarket/internal/market"
)

// EscrowAddress is the account under which the order manager holds escrowed
// bids between offer creation and accept or cancel.
var EscrowAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("nftmarket/order-escrow"))[12:])

type walletKey struct {
	owner   common.Address
	to      common.Address
	nft     common.Address
	tokenID string
}

type marketKey struct {
	owner  common.Address
	itemID uint64
}

// Config carries the settlement parameters of the manager.
type Config struct {
	Treasury common.Address
	FeeBps   int64 // marketplace fee in parts per ten thousand
}

// Manager orchestrates the offer lifecycle and all settlements.
type Manager struct {
	market   *market.Manager
	cap      market.Capability
	assets   *asset.Registry
	admin    *admin.Authority
	funds    *ledger.Ledger
	treasury common.Address
	feeBps   int64
	logger   *slog.Logger
	now      func() time.Time
	emit     func(domain.Event)

	// mu is the global sequencer: one state-changing call at a time.
	mu sync.Mutex

	nextWalletOrderID uint64
	nextMarketOrderID uint64
	walletOrders      map[uint64]*domain.WalletOrder
	marketOrders      map[uint64]*domain.MarketItemOrder

	// Reverse indexes from (bidder, target) to the live pending order,
	// supporting the top-up pattern in O(1).
	walletIndex map[walletKey]uint64
	marketIndex map[marketKey]uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEmitter attaches an event sink invoked after each committed transition.
func WithEmitter(emit func(domain.Event)) Option {
	return func(m *Manager) { m.emit = emit }
}

// NewManager wires the order manager to its collaborators. cap must be the
// capability granted by the marketplace manager.
func NewManager(mkt *market.Manager, cap market.Capability, assets *asset.Registry, authority *admin.Authority, funds *ledger.Ledger, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		market:       mkt,
		cap:          cap,
		assets:       assets,
		admin:        authority,
		funds:        funds,
		treasury:     cfg.Treasury,
		feeBps:       cfg.FeeBps,
		logger:       logger,
		now:          time.Now,
		walletOrders: make(map[uint64]*domain.WalletOrder),
		marketOrders: make(map[uint64]*domain.MarketItemOrder),
		walletIndex:  make(map[walletKey]uint64),
		marketIndex:  make(map[marketKey]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) publish(ev domain.Event) {
	if m.emit != nil {
		ev.At = m.now()
		m.emit(ev)
	}
}

// --------------------------------------------------------------------------
// Listing operations
// --------------------------------------------------------------------------

// Sell lists an asset for sale: the caller must hold it, terms must be valid,
// and the asset moves into marketplace escrow. Returns the new market item id.
func (m *Manager) Sell(seller common.Address, nftContract common.Address, tokenID, amount, price *big.Int, start, end time.Time, paymentToken common.Address, root common.Hash) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("order_manager: sell: %w", domain.ErrInvalidAmount)
	}
	held, err := m.assets.Holds(nftContract, seller, tokenID, amount)
	if err != nil {
		return 0, fmt.Errorf("order_manager: sell: %w", err)
	}
	if !held {
		return 0, fmt.Errorf("order_manager: sell: %w", domain.ErrUserDoesNotOwnToken)
	}

	id, err := m.cap.CreateListing(seller, nftContract, tokenID, amount, price, start, end, paymentToken, root)
	if err != nil {
		return 0, fmt.Errorf("order_manager: sell: %w", err)
	}

	m.publish(domain.Event{
		Type: domain.EventItemListed,
		Detail: map[string]any{
			"market_item_id": id,
			"seller":         seller.Hex(),
			"nft":            nftContract.Hex(),
			"token_id":       tokenID.String(),
			"amount":         amount.String(),
			"price":          price.String(),
			"payment_token":  paymentToken.Hex(),
		},
	})
	return id, nil
}

// CancelSell cancels a listing and releases its escrowed asset back to the
// seller. Only the listing's seller, at any time while the listing is free.
func (m *Manager) CancelSell(caller common.Address, marketItemID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.market.Item(marketItemID)
	if err != nil {
		return fmt.Errorf("order_manager: cancel sell: %w", err)
	}
	if item.Seller != caller {
		return fmt.Errorf("order_manager: cancel sell %d: %w", marketItemID, domain.ErrNotSeller)
	}

	if err := m.cap.MarkCanceled(marketItemID); err != nil {
		return fmt.Errorf("order_manager: cancel sell: %w", err)
	}

	m.publish(domain.Event{
		Type: domain.EventItemCanceled,
		Detail: map[string]any{
			"market_item_id": marketItemID,
			"seller":         caller.Hex(),
		},
	})
	return nil
}

// SellAvailableInMarketplace relists an expired free listing under new terms.
// Only the original seller, and only once the prior window has fully elapsed.
func (m *Manager) SellAvailableInMarketplace(caller common.Address, marketItemID uint64, newPrice, newAmount *big.Int, newStart, newEnd time.Time, newPaymentToken common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cap.Relist(caller, marketItemID, newPrice, newAmount, newStart, newEnd, newPaymentToken); err != nil {
		return fmt.Errorf("order_manager: relist: %w", err)
	}

	m.publish(domain.Event{
		Type: domain.EventItemRelisted,
		Detail: map[string]any{
			"market_item_id": marketItemID,
			"price":          newPrice.String(),
			"amount":         newAmount.String(),
			"payment_token":  newPaymentToken.Hex(),
		},
	})
	return nil
}

// Buy settles an active listing at its ask price. value is the native value
// attached to the call; for native-token listings it must match the price
// exactly, for token listings it must be absent.
func (m *Manager) Buy(buyer common.Address, marketItemID uint64, whitelistProof []common.Hash, value *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.market.Item(marketItemID)
	if err != nil {
		return fmt.Errorf("order_manager: buy: %w", err)
	}
	now := m.now()
	if item.Status != domain.MarketItemFree {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, domain.ErrItemNotAvailable)
	}
	if now.Before(item.StartTime) || now.After(item.EndTime) {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, domain.ErrNotTheOrderTime)
	}
	if item.Seller == buyer {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, domain.ErrCannotBuyOwnItem)
	}
	if err := m.checkAccess(marketItemID, item, whitelistProof, buyer); err != nil {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, err)
	}
	if err := m.canPull(buyer, item.PaymentToken, item.Price, value); err != nil {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, err)
	}
	split, err := m.splitPrice(item.NFTContract, item.TokenID, item.Price)
	if err != nil {
		return err
	}

	// All preconditions hold. Flip state before moving funds or assets.
	if err := m.cap.MarkSold(marketItemID); err != nil {
		return fmt.Errorf("order_manager: buy: %w", err)
	}

	if err := m.pull(buyer, item.PaymentToken, item.Price, value); err != nil {
		return fmt.Errorf("order_manager: buy %d: %w", marketItemID, err)
	}
	if err := m.payout(item.PaymentToken, item.Seller, split); err != nil {
		return err
	}
	if err := m.cap.Deliver(marketItemID, buyer); err != nil {
		return fmt.Errorf("order_manager: buy: %w", err)
	}

	settlement := m.newSettlement(item, 0, buyer, item.Price, split)
	m.logger.Info("order_manager: item sold",
		slog.Uint64("market_item_id", marketItemID),
		slog.String("buyer", buyer.Hex()),
		slog.String("price", item.Price.String()),
	)
	m.publish(domain.Event{
		Type:       domain.EventItemSold,
		Settlement: &settlement,
		Detail: map[string]any{
			"market_item_id": marketItemID,
			"buyer":          buyer.Hex(),
			"price":          item.Price.String(),
		},
	})
	return nil
}

// --------------------------------------------------------------------------
// Wallet orders
// --------------------------------------------------------------------------

// MakeWalletOrder places or tops up an offer directly against an asset and
// its current holder. A second pending offer from the same bidder against the
// same target escrows or refunds only the bid delta instead of creating a
// duplicate.
func (m *Manager) MakeWalletOrder(bidder common.Address, paymentToken common.Address, bidPrice *big.Int, to common.Address, nftContract common.Address, tokenID, amount *big.Int, expiredTime time.Time, value *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bidPrice == nil || bidPrice.Sign() <= 0 {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrInvalidPrice)
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrInvalidAmount)
	}
	if to == bidder || to == (common.Address{}) || bidder == (common.Address{}) {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrInvalidWallets)
	}
	if !expiredTime.After(m.now()) {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrInvalidTimeWindow)
	}
	if !m.admin.IsPermittedPaymentToken(paymentToken) {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrPaymentTokenNotPermitted)
	}
	held, err := m.assets.Holds(nftContract, to, tokenID, amount)
	if err != nil {
		return 0, fmt.Errorf("order_manager: wallet order: %w", err)
	}
	if !held {
		return 0, fmt.Errorf("order_manager: wallet order: %w", domain.ErrUserDoesNotOwnToken)
	}

	key := walletKey{owner: bidder, to: to, nft: nftContract, tokenID: tokenID.String()}
	if existingID, ok := m.walletIndex[key]; ok {
		existing := m.walletOrders[existingID]
		if err := m.topUp(&existing.OrderInfo, bidder, paymentToken, bidPrice, expiredTime, value); err != nil {
			return 0, fmt.Errorf("order_manager: wallet order %d: %w", existingID, err)
		}
		existing.Amount = new(big.Int).Set(amount)
		m.publish(domain.Event{
			Type: domain.EventOrderUpdated,
			Detail: map[string]any{
				"kind":      "wallet",
				"order_id":  existingID,
				"bidder":    bidder.Hex(),
				"bid_price": bidPrice.String(),
			},
		})
		return existingID, nil
	}

	if err := m.canPull(bidder, paymentToken, bidPrice, value); err != nil {
		return 0, fmt.Errorf("order_manager: wallet order: %w", err)
	}

	m.nextWalletOrderID++
	id := m.nextWalletOrderID
	now := m.now()
	order := &domain.WalletOrder{
		OrderInfo: domain.OrderInfo{
			ID:           id,
			PaymentToken: paymentToken,
			BidPrice:     new(big.Int).Set(bidPrice),
			ExpiredTime:  expiredTime,
			Status:       domain.OrderPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Owner:       bidder,
		To:          to,
		NFTContract: nftContract,
		TokenID:     new(big.Int).Set(tokenID),
		Amount:      new(big.Int).Set(amount),
	}
	m.walletOrders[id] = order
	m.walletIndex[key] = id

	if err := m.pull(bidder, paymentToken, bidPrice, value); err != nil {
		// Escrow pull cannot fail after canPull; restore registry shape if it
		// ever does.
		delete(m.walletOrders, id)
		delete(m.walletIndex, key)
		m.nextWalletOrderID--
		return 0, fmt.Errorf("order_manager: wallet order: %w", err)
	}

	m.publish(domain.Event{
		Type: domain.EventOrderMade,
		Detail: map[string]any{
			"kind":      "wallet",
			"order_id":  id,
			"bidder":    bidder.Hex(),
			"to":        to.Hex(),
			"nft":       nftContract.Hex(),
			"token_id":  tokenID.String(),
			"bid_price": bidPrice.String(),
		},
	})
	return id, nil
}

// AcceptWalletOrder settles a pending wallet order: the current holder of the
// asset hands it to the bidder and receives the escrowed bid minus fees.
func (m *Manager) AcceptWalletOrder(caller common.Address, orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.walletOrders[orderID]
	if !ok {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderPending {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, domain.ErrOrderNotPending)
	}
	if order.ExpiredAt(m.now()) {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, domain.ErrOrderExpired)
	}
	held, err := m.assets.Holds(order.NFTContract, caller, order.TokenID, order.Amount)
	if err != nil {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, err)
	}
	if !held {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, domain.ErrUserDoesNotOwnToken)
	}
	split, err := m.splitPrice(order.NFTContract, order.TokenID, order.BidPrice)
	if err != nil {
		return err
	}

	// Flip before moving anything.
	order.Status = domain.OrderAccepted
	order.UpdatedAt = m.now()
	delete(m.walletIndex, walletKey{owner: order.Owner, to: order.To, nft: order.NFTContract, tokenID: order.TokenID.String()})

	if err := m.assets.Move(order.NFTContract, caller, order.Owner, order.TokenID, order.Amount); err != nil {
		return fmt.Errorf("order_manager: accept wallet order %d: %w", orderID, err)
	}
	if err := m.payout(order.PaymentToken, caller, split); err != nil {
		return err
	}

	settlement := domain.Settlement{
		ID:              newSettlementID(),
		OrderID:         orderID,
		NFTContract:     order.NFTContract,
		TokenID:         new(big.Int).Set(order.TokenID),
		Amount:          new(big.Int).Set(order.Amount),
		PaymentToken:    order.PaymentToken,
		Price:           new(big.Int).Set(order.BidPrice),
		Seller:          caller,
		Buyer:           order.Owner,
		SellerProceeds:  split.SellerProceeds,
		RoyaltyReceiver: split.RoyaltyReceiver,
		RoyaltyAmount:   split.RoyaltyAmount,
		MarketplaceFee:  split.MarketplaceFee,
		SettledAt:       m.now(),
	}
	m.logger.Info("order_manager: wallet order accepted",
		slog.Uint64("order_id", orderID),
		slog.String("seller", caller.Hex()),
		slog.String("bidder", order.Owner.Hex()),
		slog.String("price", order.BidPrice.String()),
	)
	m.publish(domain.Event{
		Type:       domain.EventOrderAccepted,
		Settlement: &settlement,
		Detail: map[string]any{
			"kind":     "wallet",
			"order_id": orderID,
			"seller":   caller.Hex(),
			"bidder":   order.Owner.Hex(),
		},
	})
	return nil
}

// CancelWalletOrder cancels a pending wallet order and refunds the full
// escrowed bid to the bidder. Only the bidder may cancel, at any time.
func (m *Manager) CancelWalletOrder(caller common.Address, orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.walletOrders[orderID]
	if !ok {
		return fmt.Errorf("order_manager: cancel wallet order %d: %w", orderID, domain.ErrNotFound)
	}
	if order.Owner != caller {
		return fmt.Errorf("order_manager: cancel wallet order %d: %w", orderID, domain.ErrNotOwnerOfOffer)
	}
	if order.Status != domain.OrderPending {
		return fmt.Errorf("order_manager: cancel wallet order %d: %w", orderID, domain.ErrOrderNotPending)
	}

	order.Status = domain.OrderCanceled
	order.UpdatedAt = m.now()
	delete(m.walletIndex, walletKey{owner: order.Owner, to: order.To, nft: order.NFTContract, tokenID: order.TokenID.String()})

	if err := m.funds.Transfer(order.PaymentToken, EscrowAddress, caller, order.BidPrice); err != nil {
		return fmt.Errorf("order_manager: cancel wallet order %d: refund: %w", orderID, err)
	}

	m.publish(domain.Event{
		Type: domain.EventOrderCanceled,
		Detail: map[string]any{
			"kind":     "wallet",
			"order_id": orderID,
			"bidder":   caller.Hex(),
			"refund":   order.BidPrice.String(),
		},
	})
	return nil
}

// --------------------------------------------------------------------------
// Market-item orders
// --------------------------------------------------------------------------

// MakeMarketItemOrder places or tops up an offer against an active listing.
func (m *Manager) MakeMarketItemOrder(bidder common.Address, marketItemID uint64, paymentToken common.Address, bidPrice *big.Int, expiredTime time.Time, whitelistProof []common.Hash, value *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bidPrice == nil || bidPrice.Sign() <= 0 {
		return 0, fmt.Errorf("order_manager: market item order: %w", domain.ErrInvalidPrice)
	}
	item, err := m.market.Item(marketItemID)
	if err != nil {
		return 0, fmt.Errorf("order_manager: market item order: %w", err)
	}
	now := m.now()
	if !item.ActiveAt(now) {
		return 0, fmt.Errorf("order_manager: market item order %d: %w", marketItemID, domain.ErrNotTheOrderTime)
	}
	if item.Seller == bidder {
		return 0, fmt.Errorf("order_manager: market item order %d: %w", marketItemID, domain.ErrCannotBuyOwnItem)
	}
	if !expiredTime.After(now) {
		return 0, fmt.Errorf("order_manager: market item order: %w", domain.ErrInvalidTimeWindow)
	}
	if !m.admin.IsPermittedPaymentToken(paymentToken) {
		return 0, fmt.Errorf("order_manager: market item order: %w", domain.ErrPaymentTokenNotPermitted)
	}
	if err := m.checkAccess(marketItemID, item, whitelistProof, bidder); err != nil {
		return 0, fmt.Errorf("order_manager: market item order %d: %w", marketItemID, err)
	}

	key := marketKey{owner: bidder, itemID: marketItemID}
	if existingID, ok := m.marketIndex[key]; ok {
		existing := m.marketOrders[existingID]
		if err := m.topUp(&existing.OrderInfo, bidder, paymentToken, bidPrice, expiredTime, value); err != nil {
			return 0, fmt.Errorf("order_manager: market item order %d: %w", existingID, err)
		}
		m.publish(domain.Event{
			Type: domain.EventOrderUpdated,
			Detail: map[string]any{
				"kind":           "market_item",
				"order_id":       existingID,
				"market_item_id": marketItemID,
				"bidder":         bidder.Hex(),
				"bid_price":      bidPrice.String(),
			},
		})
		return existingID, nil
	}

	if err := m.canPull(bidder, paymentToken, bidPrice, value); err != nil {
		return 0, fmt.Errorf("order_manager: market item order: %w", err)
	}

	m.nextMarketOrderID++
	id := m.nextMarketOrderID
	order := &domain.MarketItemOrder{
		OrderInfo: domain.OrderInfo{
			ID:           id,
			PaymentToken: paymentToken,
			BidPrice:     new(big.Int).Set(bidPrice),
			ExpiredTime:  expiredTime,
			Status:       domain.OrderPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Owner:        bidder,
		MarketItemID: marketItemID,
	}
	m.marketOrders[id] = order
	m.marketIndex[key] = id

	if err := m.pull(bidder, paymentToken, bidPrice, value); err != nil {
		delete(m.marketOrders, id)
		delete(m.marketIndex, key)
		m.nextMarketOrderID--
		return 0, fmt.Errorf("order_manager: market item order: %w", err)
	}

	m.publish(domain.Event{
		Type: domain.EventOrderMade,
		Detail: map[string]any{
			"kind":           "market_item",
			"order_id":       id,
			"market_item_id": marketItemID,
			"bidder":         bidder.Hex(),
			"bid_price":      bidPrice.String(),
		},
	})
	return id, nil
}

// AcceptMarketItemOrder settles a pending listing-scoped order: the listing's
// seller releases the escrowed asset to the bidder for the escrowed bid.
func (m *Manager) AcceptMarketItemOrder(caller common.Address, orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.marketOrders[orderID]
	if !ok {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderPending {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, domain.ErrOrderNotPending)
	}
	if order.ExpiredAt(m.now()) {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, domain.ErrOrderExpired)
	}
	item, err := m.market.Item(order.MarketItemID)
	if err != nil {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, err)
	}
	if item.Seller != caller {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, domain.ErrNotSeller)
	}
	// The listing may have sold or been canceled while the order sat
	// pending. Check before touching the order so the bidder can still
	// cancel and recover the escrowed bid.
	if item.Status != domain.MarketItemFree {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, domain.ErrItemNotAvailable)
	}
	split, err := m.splitPrice(item.NFTContract, item.TokenID, order.BidPrice)
	if err != nil {
		return err
	}

	// Flip both the order and the listing before any transfer.
	order.Status = domain.OrderAccepted
	order.UpdatedAt = m.now()
	delete(m.marketIndex, marketKey{owner: order.Owner, itemID: order.MarketItemID})
	if err := m.cap.MarkSold(order.MarketItemID); err != nil {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, err)
	}

	if err := m.payout(order.PaymentToken, caller, split); err != nil {
		return err
	}
	if err := m.cap.Deliver(order.MarketItemID, order.Owner); err != nil {
		return fmt.Errorf("order_manager: accept market item order %d: %w", orderID, err)
	}

	settlement := m.newSettlement(item, orderID, order.Owner, order.BidPrice, split)
	m.logger.Info("order_manager: market item order accepted",
		slog.Uint64("order_id", orderID),
		slog.Uint64("market_item_id", order.MarketItemID),
		slog.String("bidder", order.Owner.Hex()),
		slog.String("price", order.BidPrice.String()),
	)
	m.publish(domain.Event{
		Type:       domain.EventOrderAccepted,
		Settlement: &settlement,
		Detail: map[string]any{
			"kind":           "market_item",
			"order_id":       orderID,
			"market_item_id": order.MarketItemID,
			"bidder":         order.Owner.Hex(),
		},
	})
	return nil
}

// CancelMarketItemOrder cancels a pending listing-scoped order and refunds
// the full escrowed bid. Only the bidder may cancel.
func (m *Manager) CancelMarketItemOrder(caller common.Address, orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.marketOrders[orderID]
	if !ok {
		return fmt.Errorf("order_manager: cancel market item order %d: %w", orderID, domain.ErrNotFound)
	}
	if order.Owner != caller {
		return fmt.Errorf("order_manager: cancel market item order %d: %w", orderID, domain.ErrNotOwnerOfOffer)
	}
	if order.Status != domain.OrderPending {
		return fmt.Errorf("order_manager: cancel market item order %d: %w", orderID, domain.ErrOrderNotPending)
	}

	order.Status = domain.OrderCanceled
	order.UpdatedAt = m.now()
	delete(m.marketIndex, marketKey{owner: order.Owner, itemID: order.MarketItemID})

	if err := m.funds.Transfer(order.PaymentToken, EscrowAddress, caller, order.BidPrice); err != nil {
		return fmt.Errorf("order_manager: cancel market item order %d: refund: %w", orderID, err)
	}

	m.publish(domain.Event{
		Type: domain.EventOrderCanceled,
		Detail: map[string]any{
			"kind":     "market_item",
			"order_id": orderID,
			"bidder":   caller.Hex(),
			"refund":   order.BidPrice.String(),
		},
	})
	return nil
}

// --------------------------------------------------------------------------
// Read accessors
// --------------------------------------------------------------------------

// WalletOrder returns a copy of the wallet order with the given id.
func (m *Manager) WalletOrder(id uint64) (domain.WalletOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.walletOrders[id]
	if !ok {
		return domain.WalletOrder{}, fmt.Errorf("order_manager: wallet order %d: %w", id, domain.ErrNotFound)
	}
	return *order, nil
}

// MarketItemOrder returns a copy of the market-item order with the given id.
func (m *Manager) MarketItemOrder(id uint64) (domain.MarketItemOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.marketOrders[id]
	if !ok {
		return domain.MarketItemOrder{}, fmt.Errorf("order_manager: market item order %d: %w", id, domain.ErrNotFound)
	}
	return *order, nil
}

// WalletOrdersByOwner returns all wallet orders placed by owner.
func (m *Manager) WalletOrdersByOwner(owner common.Address) []domain.WalletOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WalletOrder
	for id := m.nextWalletOrderID; id >= 1; id-- {
		if o, ok := m.walletOrders[id]; ok && o.Owner == owner {
			out = append(out, *o)
		}
	}
	return out
}

// MarketItemOrdersByItem returns all orders against a listing.
func (m *Manager) MarketItemOrdersByItem(marketItemID uint64) []domain.MarketItemOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarketItemOrder
	for id := m.nextMarketOrderID; id >= 1; id-- {
		if o, ok := m.marketOrders[id]; ok && o.MarketItemID == marketItemID {
			out = append(out, *o)
		}
	}
	return out
}

// Counts returns the monotonic order counters.
func (m *Manager) Counts() (walletOrders, marketItemOrders uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextWalletOrderID, m.nextMarketOrderID
}

// --------------------------------------------------------------------------
// Payment plumbing
// --------------------------------------------------------------------------

// canPull verifies the payer can cover required in token, without moving
// anything. Native payments demand an exactly matching attached value; token
// payments demand no attached value plus sufficient allowance and balance.
func (m *Manager) canPull(payer common.Address, token common.Address, required, value *big.Int) error {
	if value == nil {
		value = new(big.Int)
	}
	if token == domain.NativeToken {
		if value.Cmp(required) != 0 {
			return fmt.Errorf("attached value %s for price %s: %w", value, required, domain.ErrNotEnoughFee)
		}
		if m.funds.BalanceOf(domain.NativeToken, payer).Cmp(required) < 0 {
			return domain.ErrInsufficientBalance
		}
		return nil
	}
	if value.Sign() != 0 {
		return fmt.Errorf("unexpected native value on token payment: %w", domain.ErrNotEnoughFee)
	}
	if m.funds.Allowance(token, payer, EscrowAddress).Cmp(required) < 0 {
		return domain.ErrInsufficientAllowance
	}
	if m.funds.BalanceOf(token, payer).Cmp(required) < 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// pull moves required from the payer into the order escrow. Callers must
// have passed canPull with the same arguments.
func (m *Manager) pull(payer common.Address, token common.Address, required, value *big.Int) error {
	if token == domain.NativeToken {
		return m.funds.Transfer(domain.NativeToken, payer, EscrowAddress, required)
	}
	return m.funds.TransferFrom(token, EscrowAddress, payer, EscrowAddress, required)
}

// topUp applies the duplicate-offer pattern to an existing pending order:
// escrow the positive bid delta or refund the negative one, then overwrite
// the stored bid and expiry in place. The payment token of a pending order
// cannot change.
func (m *Manager) topUp(info *domain.OrderInfo, bidder common.Address, paymentToken common.Address, newBid *big.Int, expiredTime time.Time, value *big.Int) error {
	if paymentToken != info.PaymentToken {
		return domain.ErrCannotUpdatePaymentToken
	}

	delta := new(big.Int).Sub(newBid, info.BidPrice)
	switch {
	case delta.Sign() > 0:
		if err := m.canPull(bidder, paymentToken, delta, value); err != nil {
			return err
		}
		if err := m.pull(bidder, paymentToken, delta, value); err != nil {
			return err
		}
	case delta.Sign() < 0:
		if value != nil && value.Sign() != 0 {
			return fmt.Errorf("unexpected native value on bid reduction: %w", domain.ErrNotEnoughFee)
		}
		refund := new(big.Int).Neg(delta)
		if err := m.funds.Transfer(info.PaymentToken, EscrowAddress, bidder, refund); err != nil {
			return err
		}
	default:
		if value != nil && value.Sign() != 0 {
			return fmt.Errorf("unexpected native value on unchanged bid: %w", domain.ErrNotEnoughFee)
		}
	}

	info.BidPrice = new(big.Int).Set(newBid)
	info.ExpiredTime = expiredTime
	info.UpdatedAt = m.now()
	return nil
}

// checkAccess enforces the whitelist proof and the membership gate for
// listing-scoped buys and offers.
func (m *Manager) checkAccess(marketItemID uint64, item domain.MarketItem, proof []common.Hash, caller common.Address) error {
	if !item.Public() {
		ok, err := m.market.VerifyWhitelist(marketItemID, proof, caller)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotPermitted
		}
	}
	if m.admin.RequiresMembershipToken() && !m.admin.HoldsMembershipToken(caller) {
		return domain.ErrNotPermitted
	}
	return nil
}

func (m *Manager) newSettlement(item domain.MarketItem, orderID uint64, buyer common.Address, price *big.Int, split feeSplit) domain.Settlement {
	return domain.Settlement{
		ID:              newSettlementID(),
		MarketItemID:    item.ID,
		OrderID:         orderID,
		NFTContract:     item.NFTContract,
		TokenID:         new(big.Int).Set(item.TokenID),
		Amount:          new(big.Int).Set(item.Amount),
		PaymentToken:    item.PaymentToken,
		Price:           new(big.Int).Set(price),
		Seller:          item.Seller,
		Buyer:           buyer,
		SellerProceeds:  split.SellerProceeds,
		RoyaltyReceiver: split.RoyaltyReceiver,
		RoyaltyAmount:   split.RoyaltyAmount,
		MarketplaceFee:  split.MarketplaceFee,
		SettledAt:       m.now(),
	}
}
