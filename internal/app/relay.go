package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openverse-labs/nftmarket/internal/domain"
	"github.com/openverse-labs/nftmarket/internal/notify"
)

// Signal bus channels the relay fans events out to. The websocket hub
// subscribes to the same names.
const (
	channelListings    = "mkt:listings"
	channelOrders      = "mkt:orders"
	channelSettlements = "mkt:settlements"
	channelAdmin       = "mkt:admin"
)

// relayOpTimeout bounds each downstream write so one slow sink cannot stall
// the whole fan-out loop.
const relayOpTimeout = 5 * time.Second

// Relay drains the engine's event channel and fans each event out to the
// journal stores, the audit log, the signal bus, the listing cache, and the
// notifier. It runs strictly after the originating engine call has committed,
// so journal rows always reflect engine state.
type Relay struct {
	deps   *Dependencies
	logger *slog.Logger
}

// NewRelay creates a Relay over the wired dependencies.
func NewRelay(deps *Dependencies, logger *slog.Logger) *Relay {
	return &Relay{
		deps:   deps,
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Run consumes events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.deps.Events:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Relay) handle(parent context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(parent, relayOpTimeout)
	defer cancel()

	r.journal(ctx, ev)

	if err := r.deps.Audit.Log(ctx, string(ev.Type), ev.Detail); err != nil {
		r.logger.WarnContext(ctx, "audit log write failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	r.broadcast(ctx, ev)
	r.refreshListings(ctx, ev)

	title, message := notify.FormatEvent(ev)
	if err := r.deps.Notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// journal persists the affected listing, order, and settlement snapshots.
func (r *Relay) journal(ctx context.Context, ev domain.Event) {
	if id, ok := detailUint64(ev.Detail["market_item_id"]); ok {
		if item, err := r.deps.Market.Item(id); err == nil {
			if err := r.deps.Items.Upsert(ctx, item); err != nil {
				r.logger.WarnContext(ctx, "market item journal write failed",
					slog.Uint64("market_item_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if id, ok := detailUint64(ev.Detail["order_id"]); ok {
		kind, _ := ev.Detail["kind"].(string)
		var err error
		switch kind {
		case "wallet":
			var o domain.WalletOrder
			if o, err = r.deps.Engine.WalletOrder(id); err == nil {
				err = r.deps.WalletOrders.Upsert(ctx, o)
			}
		case "market_item":
			var o domain.MarketItemOrder
			if o, err = r.deps.Engine.MarketItemOrder(id); err == nil {
				err = r.deps.MarketOrders.Upsert(ctx, o)
			}
		}
		if err != nil {
			r.logger.WarnContext(ctx, "order journal write failed",
				slog.String("kind", kind),
				slog.Uint64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if ev.Settlement != nil {
		if err := r.deps.Settlements.Insert(ctx, *ev.Settlement); err != nil {
			r.logger.WarnContext(ctx, "settlement journal write failed",
				slog.String("settlement_id", ev.Settlement.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// broadcast publishes the event to its signal bus channel, and settlements
// additionally to the settlement channel.
func (r *Relay) broadcast(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(eventWire(ev))
	if err != nil {
		r.logger.WarnContext(ctx, "event marshal failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	channels := []string{channelFor(ev.Type)}
	if ev.Settlement != nil {
		channels = append(channels, channelSettlements)
	}
	for _, ch := range channels {
		if err := r.deps.SignalBus.Publish(ctx, ch, payload); err != nil {
			r.logger.WarnContext(ctx, "signal bus publish failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
	}
}

// refreshListings rebuilds the active-listing snapshot after any event that
// can change it.
func (r *Relay) refreshListings(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventItemListed, domain.EventItemRelisted, domain.EventItemCanceled,
		domain.EventItemSold, domain.EventOrderAccepted, domain.EventRootRotated:
	default:
		return
	}
	if err := r.deps.ListingCache.SetActive(ctx, r.deps.Market.ActiveItems()); err != nil {
		r.logger.WarnContext(ctx, "listing cache refresh failed",
			slog.String("error", err.Error()),
		)
		if err := r.deps.ListingCache.Invalidate(ctx); err != nil {
			r.logger.WarnContext(ctx, "listing cache invalidate failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func channelFor(t domain.EventType) string {
	switch t {
	case domain.EventItemListed, domain.EventItemRelisted, domain.EventItemCanceled, domain.EventItemSold:
		return channelListings
	case domain.EventRootRotated:
		return channelAdmin
	default:
		return channelOrders
	}
}

// eventWire is the JSON shape broadcast on the signal bus.
func eventWire(ev domain.Event) map[string]any {
	out := map[string]any{
		"type":   string(ev.Type),
		"at":     ev.At.UTC().Format(time.RFC3339Nano),
		"detail": ev.Detail,
	}
	if s := ev.Settlement; s != nil {
		out["settlement"] = map[string]any{
			"id":               s.ID,
			"market_item_id":   s.MarketItemID,
			"order_id":         s.OrderID,
			"nft_contract":     s.NFTContract.Hex(),
			"token_id":         s.TokenID.String(),
			"amount":           s.Amount.String(),
			"payment_token":    s.PaymentToken.Hex(),
			"price":            s.Price.String(),
			"seller":           s.Seller.Hex(),
			"buyer":            s.Buyer.Hex(),
			"seller_proceeds":  s.SellerProceeds.String(),
			"royalty_receiver": s.RoyaltyReceiver.Hex(),
			"royalty_amount":   s.RoyaltyAmount.String(),
			"marketplace_fee":  s.MarketplaceFee.String(),
			"settled_at":       s.SettledAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

// detailUint64 reads an id out of an event detail map. Details are built
// in-process with uint64 ids, but tolerate ints in case a detail was
// constructed by hand.
func detailUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
