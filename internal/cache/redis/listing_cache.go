package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

const activeListingsTTL = 30 * time.Second

const activeListingsKey = "listings:active"

// ListingCache implements domain.ListingCache with a single JSON-serialized
// snapshot of the currently active listings. The engine refreshes the
// snapshot after every mutation; HTTP reads hit the cache first and fall back
// to the engine on a miss.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

// SetActive stores the active-listing snapshot with a short TTL.
func (lc *ListingCache) SetActive(ctx context.Context, items []domain.MarketItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("redis: marshal active listings: %w", err)
	}
	if err := lc.rdb.Set(ctx, activeListingsKey, data, activeListingsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set active listings: %w", err)
	}
	return nil
}

// GetActive retrieves the active-listing snapshot.
// It returns domain.ErrNotFound when the snapshot is missing or expired.
func (lc *ListingCache) GetActive(ctx context.Context) ([]domain.MarketItem, error) {
	data, err := lc.rdb.Get(ctx, activeListingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get active listings: %w", err)
	}

	var items []domain.MarketItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("redis: unmarshal active listings: %w", err)
	}
	return items, nil
}

// Invalidate drops the snapshot so the next read falls through to the engine.
func (lc *ListingCache) Invalidate(ctx context.Context) error {
	if err := lc.rdb.Del(ctx, activeListingsKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate active listings: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
