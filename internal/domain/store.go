package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketItemStore journals listings. The engine's in-memory registry is the
// system of record; stores are the durable query surface behind it.
type MarketItemStore interface {
	Upsert(ctx context.Context, item MarketItem) error
	GetByID(ctx context.Context, id uint64) (MarketItem, error)
	ListBySeller(ctx context.Context, seller string, opts ListOpts) ([]MarketItem, error)
	ListByStatus(ctx context.Context, status MarketItemStatus, opts ListOpts) ([]MarketItem, error)
	Count(ctx context.Context) (int64, error)
}

// WalletOrderStore journals direct-to-wallet offers.
type WalletOrderStore interface {
	Upsert(ctx context.Context, order WalletOrder) error
	GetByID(ctx context.Context, id uint64) (WalletOrder, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]WalletOrder, error)
}

// MarketItemOrderStore journals listing-scoped offers.
type MarketItemOrderStore interface {
	Upsert(ctx context.Context, order MarketItemOrder) error
	GetByID(ctx context.Context, id uint64) (MarketItemOrder, error)
	ListByMarketItem(ctx context.Context, marketItemID uint64, opts ListOpts) ([]MarketItemOrder, error)
}

// SettlementStore journals completed exchanges with their fee splits.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Settlement, error)
	ListRecent(ctx context.Context, limit int) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SignalBus publishes engine events to external subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// RateLimiter bounds the rate of API calls per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ListingCache holds a snapshot of active listings for cheap reads.
type ListingCache interface {
	SetActive(ctx context.Context, items []MarketItem) error
	GetActive(ctx context.Context) ([]MarketItem, error)
	Invalidate(ctx context.Context) error
}
