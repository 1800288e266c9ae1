package order

import (
	"fmt"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// Sweep cancels every pending offer whose expiry has passed, refunding the
// escrowed bid to its bidder. It returns the number of offers swept. Expired
// listings are left alone: they stay relistable by their seller and Buy
// already rejects them.
func (m *Manager) Sweep() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	swept := 0

	for id, o := range m.walletOrders {
		if o.Status != domain.OrderPending || !o.ExpiredAt(now) {
			continue
		}
		o.Status = domain.OrderCanceled
		o.UpdatedAt = now
		delete(m.walletIndex, walletKey{owner: o.Owner, to: o.To, nft: o.NFTContract, tokenID: o.TokenID.String()})
		if err := m.funds.Transfer(o.PaymentToken, EscrowAddress, o.Owner, o.BidPrice); err != nil {
			return swept, fmt.Errorf("order_manager: sweep wallet order %d: refund: %w", id, err)
		}
		swept++
		m.publish(domain.Event{
			Type: domain.EventOrderCanceled,
			Detail: map[string]any{
				"kind":     "wallet",
				"order_id": id,
				"bidder":   o.Owner.Hex(),
				"refund":   o.BidPrice.String(),
				"swept":    true,
			},
		})
	}

	for id, o := range m.marketOrders {
		if o.Status != domain.OrderPending || !o.ExpiredAt(now) {
			continue
		}
		o.Status = domain.OrderCanceled
		o.UpdatedAt = now
		delete(m.marketIndex, marketKey{owner: o.Owner, itemID: o.MarketItemID})
		if err := m.funds.Transfer(o.PaymentToken, EscrowAddress, o.Owner, o.BidPrice); err != nil {
			return swept, fmt.Errorf("order_manager: sweep market item order %d: refund: %w", id, err)
		}
		swept++
		m.publish(domain.Event{
			Type: domain.EventOrderCanceled,
			Detail: map[string]any{
				"kind":           "market_item",
				"order_id":       id,
				"market_item_id": o.MarketItemID,
				"bidder":         o.Owner.Hex(),
				"refund":         o.BidPrice.String(),
				"swept":          true,
			},
		})
	}

	return swept, nil
}
