package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// MarketItemOrderStore implements domain.MarketItemOrderStore using
// PostgreSQL.
type MarketItemOrderStore struct {
	pool *pgxpool.Pool
}

// NewMarketItemOrderStore creates a new MarketItemOrderStore backed by the
// given connection pool.
func NewMarketItemOrderStore(pool *pgxpool.Pool) *MarketItemOrderStore {
	return &MarketItemOrderStore{pool: pool}
}

// Upsert inserts or replaces the journal row for a listing-scoped offer.
func (s *MarketItemOrderStore) Upsert(ctx context.Context, order domain.MarketItemOrder) error {
	const query = `
		INSERT INTO market_item_orders (
			id, owner, market_item_id, payment_token, bid_price,
			expired_time, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			payment_token = EXCLUDED.payment_token,
			bid_price    = EXCLUDED.bid_price,
			expired_time = EXCLUDED.expired_time,
			status       = EXCLUDED.status,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(order.ID), order.Owner.Hex(), int64(order.MarketItemID),
		order.PaymentToken.Hex(), bigStr(order.BidPrice),
		order.ExpiredTime, string(order.Status),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market item order %d: %w", order.ID, err)
	}
	return nil
}

const marketItemOrderSelectCols = `id, owner, market_item_id, payment_token,
	bid_price::text, expired_time, status, created_at, updated_at`

func scanMarketItemOrder(scanner interface{ Scan(dest ...any) error }) (domain.MarketItemOrder, error) {
	var o domain.MarketItemOrder
	var id, itemID int64
	var owner, paymentToken, bidPrice, status string

	err := scanner.Scan(
		&id, &owner, &itemID, &paymentToken,
		&bidPrice, &o.ExpiredTime, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.MarketItemOrder{}, err
	}

	o.ID = uint64(id)
	o.MarketItemID = uint64(itemID)
	o.Owner = common.HexToAddress(owner)
	o.PaymentToken = common.HexToAddress(paymentToken)
	o.Status = domain.OrderStatus(status)

	if o.BidPrice, err = parseBig(bidPrice); err != nil {
		return domain.MarketItemOrder{}, fmt.Errorf("bid_price: %w", err)
	}

	return o, nil
}

// GetByID retrieves a listing-scoped offer by its ID.
// It returns domain.ErrNotFound when no row exists.
func (s *MarketItemOrderStore) GetByID(ctx context.Context, id uint64) (domain.MarketItemOrder, error) {
	query := `SELECT ` + marketItemOrderSelectCols + ` FROM market_item_orders WHERE id = $1`

	o, err := scanMarketItemOrder(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketItemOrder{}, domain.ErrNotFound
		}
		return domain.MarketItemOrder{}, fmt.Errorf("postgres: get market item order %d: %w", id, err)
	}
	return o, nil
}

// ListByMarketItem returns the offers made against one listing, newest first.
func (s *MarketItemOrderStore) ListByMarketItem(ctx context.Context, marketItemID uint64, opts domain.ListOpts) ([]domain.MarketItemOrder, error) {
	query := `SELECT ` + marketItemOrderSelectCols + ` FROM market_item_orders WHERE market_item_id = $1`
	args := []any{int64(marketItemID)}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market item orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.MarketItemOrder
	for rows.Next() {
		o, err := scanMarketItemOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market item order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market item orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.MarketItemOrderStore = (*MarketItemOrderStore)(nil)
