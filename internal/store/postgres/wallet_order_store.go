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

// WalletOrderStore implements domain.WalletOrderStore using PostgreSQL.
type WalletOrderStore struct {
	pool *pgxpool.Pool
}

// NewWalletOrderStore creates a new WalletOrderStore backed by the given
// connection pool.
func NewWalletOrderStore(pool *pgxpool.Pool) *WalletOrderStore {
	return &WalletOrderStore{pool: pool}
}

// Upsert inserts or replaces the journal row for a wallet offer.
func (s *WalletOrderStore) Upsert(ctx context.Context, order domain.WalletOrder) error {
	const query = `
		INSERT INTO wallet_orders (
			id, owner, recipient, nft_contract, token_id, amount,
			payment_token, bid_price, expired_time, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)
		ON CONFLICT (id) DO UPDATE SET
			payment_token = EXCLUDED.payment_token,
			bid_price    = EXCLUDED.bid_price,
			expired_time = EXCLUDED.expired_time,
			status       = EXCLUDED.status,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(order.ID), order.Owner.Hex(), order.To.Hex(),
		order.NFTContract.Hex(), bigStr(order.TokenID), bigStr(order.Amount),
		order.PaymentToken.Hex(), bigStr(order.BidPrice),
		order.ExpiredTime, string(order.Status),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert wallet order %d: %w", order.ID, err)
	}
	return nil
}

const walletOrderSelectCols = `id, owner, recipient, nft_contract,
	token_id::text, amount::text, payment_token, bid_price::text,
	expired_time, status, created_at, updated_at`

func scanWalletOrder(scanner interface{ Scan(dest ...any) error }) (domain.WalletOrder, error) {
	var o domain.WalletOrder
	var id int64
	var owner, recipient, nftContract, tokenID, amount string
	var paymentToken, bidPrice, status string

	err := scanner.Scan(
		&id, &owner, &recipient, &nftContract,
		&tokenID, &amount, &paymentToken, &bidPrice,
		&o.ExpiredTime, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.WalletOrder{}, err
	}

	o.ID = uint64(id)
	o.Owner = common.HexToAddress(owner)
	o.To = common.HexToAddress(recipient)
	o.NFTContract = common.HexToAddress(nftContract)
	o.PaymentToken = common.HexToAddress(paymentToken)
	o.Status = domain.OrderStatus(status)

	if o.TokenID, err = parseBig(tokenID); err != nil {
		return domain.WalletOrder{}, fmt.Errorf("token_id: %w", err)
	}
	if o.Amount, err = parseBig(amount); err != nil {
		return domain.WalletOrder{}, fmt.Errorf("amount: %w", err)
	}
	if o.BidPrice, err = parseBig(bidPrice); err != nil {
		return domain.WalletOrder{}, fmt.Errorf("bid_price: %w", err)
	}

	return o, nil
}

// GetByID retrieves a wallet offer by its ID.
// It returns domain.ErrNotFound when no row exists.
func (s *WalletOrderStore) GetByID(ctx context.Context, id uint64) (domain.WalletOrder, error) {
	query := `SELECT ` + walletOrderSelectCols + ` FROM wallet_orders WHERE id = $1`

	o, err := scanWalletOrder(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WalletOrder{}, domain.ErrNotFound
		}
		return domain.WalletOrder{}, fmt.Errorf("postgres: get wallet order %d: %w", id, err)
	}
	return o, nil
}

// ListByOwner returns the bidder's wallet offers, newest first.
func (s *WalletOrderStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.WalletOrder, error) {
	query := `SELECT ` + walletOrderSelectCols + ` FROM wallet_orders WHERE owner = $1`
	args := []any{common.HexToAddress(owner).Hex()}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallet orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.WalletOrder
	for rows.Next() {
		o, err := scanWalletOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wallet order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wallet orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.WalletOrderStore = (*WalletOrderStore)(nil)
