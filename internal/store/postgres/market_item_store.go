package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// MarketItemStore implements domain.MarketItemStore using PostgreSQL.
type MarketItemStore struct {
	pool *pgxpool.Pool
}

// NewMarketItemStore creates a new MarketItemStore backed by the given
// connection pool.
func NewMarketItemStore(pool *pgxpool.Pool) *MarketItemStore {
	return &MarketItemStore{pool: pool}
}

// bigStr renders a big.Int for storage in a NUMERIC column. Nil is stored as
// zero so journal rows never carry NULL amounts.
func bigStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseBig parses a NUMERIC column rendered as text back into a big.Int.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

// Upsert inserts or replaces the journal row for a listing. The engine calls
// this after every listing mutation, so the row always mirrors the in-memory
// state.
func (s *MarketItemStore) Upsert(ctx context.Context, item domain.MarketItem) error {
	const query = `
		INSERT INTO market_items (
			id, nft_contract, token_id, amount, price, seller,
			payment_token, start_time, end_time, status, root_hash,
			standard, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			amount     = EXCLUDED.amount,
			price      = EXCLUDED.price,
			payment_token = EXCLUDED.payment_token,
			start_time = EXCLUDED.start_time,
			end_time   = EXCLUDED.end_time,
			status     = EXCLUDED.status,
			root_hash  = EXCLUDED.root_hash,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(item.ID), item.NFTContract.Hex(),
		bigStr(item.TokenID), bigStr(item.Amount), bigStr(item.Price),
		item.Seller.Hex(), item.PaymentToken.Hex(),
		item.StartTime, item.EndTime,
		string(item.Status), item.RootHash.Hex(), string(item.Standard),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market item %d: %w", item.ID, err)
	}
	return nil
}

const marketItemSelectCols = `id, nft_contract, token_id::text, amount::text,
	price::text, seller, payment_token, start_time, end_time, status,
	root_hash, standard, created_at, updated_at`

func scanMarketItem(scanner interface{ Scan(dest ...any) error }) (domain.MarketItem, error) {
	var item domain.MarketItem
	var id int64
	var nftContract, tokenID, amount, price, seller, paymentToken string
	var status, rootHash, standard string

	err := scanner.Scan(
		&id, &nftContract, &tokenID, &amount, &price, &seller,
		&paymentToken, &item.StartTime, &item.EndTime, &status,
		&rootHash, &standard, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return domain.MarketItem{}, err
	}

	item.ID = uint64(id)
	item.NFTContract = common.HexToAddress(nftContract)
	item.Seller = common.HexToAddress(seller)
	item.PaymentToken = common.HexToAddress(paymentToken)
	item.Status = domain.MarketItemStatus(status)
	item.RootHash = common.HexToHash(rootHash)
	item.Standard = domain.AssetStandard(standard)

	if item.TokenID, err = parseBig(tokenID); err != nil {
		return domain.MarketItem{}, fmt.Errorf("token_id: %w", err)
	}
	if item.Amount, err = parseBig(amount); err != nil {
		return domain.MarketItem{}, fmt.Errorf("amount: %w", err)
	}
	if item.Price, err = parseBig(price); err != nil {
		return domain.MarketItem{}, fmt.Errorf("price: %w", err)
	}

	return item, nil
}

// GetByID retrieves a listing by its ID.
// It returns domain.ErrNotFound when no row exists.
func (s *MarketItemStore) GetByID(ctx context.Context, id uint64) (domain.MarketItem, error) {
	query := `SELECT ` + marketItemSelectCols + ` FROM market_items WHERE id = $1`

	item, err := scanMarketItem(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketItem{}, domain.ErrNotFound
		}
		return domain.MarketItem{}, fmt.Errorf("postgres: get market item %d: %w", id, err)
	}
	return item, nil
}

// ListBySeller returns the seller's listings, newest first.
func (s *MarketItemStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.MarketItem, error) {
	query := `SELECT ` + marketItemSelectCols + ` FROM market_items WHERE seller = $1`
	args := []any{common.HexToAddress(seller).Hex()}
	query, args = appendListOpts(query, args, opts)

	return s.queryItems(ctx, query, args)
}

// ListByStatus returns listings in the given status, newest first.
func (s *MarketItemStore) ListByStatus(ctx context.Context, status domain.MarketItemStatus, opts domain.ListOpts) ([]domain.MarketItem, error) {
	query := `SELECT ` + marketItemSelectCols + ` FROM market_items WHERE status = $1`
	args := []any{string(status)}
	query, args = appendListOpts(query, args, opts)

	return s.queryItems(ctx, query, args)
}

// Count returns the total number of journaled listings.
func (s *MarketItemStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count market items: %w", err)
	}
	return n, nil
}

func (s *MarketItemStore) queryItems(ctx context.Context, query string, args []any) ([]domain.MarketItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market items: %w", err)
	}
	defer rows.Close()

	var items []domain.MarketItem
	for rows.Next() {
		item, err := scanMarketItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market items rows: %w", err)
	}
	return items, nil
}

// appendListOpts appends the shared time-filter, ordering, and pagination
// clauses for journal list queries. The base query must already have one
// positional argument per element of args.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

// Compile-time interface check.
var _ domain.MarketItemStore = (*MarketItemStore)(nil)
