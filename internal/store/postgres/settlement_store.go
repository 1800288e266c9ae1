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

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Insert appends a settlement row. Settlements are immutable once written.
func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			id, market_item_id, order_id, nft_contract, token_id, amount,
			payment_token, price, seller, buyer, seller_proceeds,
			royalty_receiver, royalty_amount, marketplace_fee, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		st.ID, int64(st.MarketItemID), int64(st.OrderID),
		st.NFTContract.Hex(), bigStr(st.TokenID), bigStr(st.Amount),
		st.PaymentToken.Hex(), bigStr(st.Price),
		st.Seller.Hex(), st.Buyer.Hex(), bigStr(st.SellerProceeds),
		st.RoyaltyReceiver.Hex(), bigStr(st.RoyaltyAmount),
		bigStr(st.MarketplaceFee), st.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", st.ID, err)
	}
	return nil
}

const settlementSelectCols = `id, market_item_id, order_id, nft_contract,
	token_id::text, amount::text, payment_token, price::text, seller, buyer,
	seller_proceeds::text, royalty_receiver, royalty_amount::text,
	marketplace_fee::text, settled_at`

func scanSettlement(scanner interface{ Scan(dest ...any) error }) (domain.Settlement, error) {
	var st domain.Settlement
	var itemID, orderID int64
	var nftContract, tokenID, amount, paymentToken, price string
	var seller, buyer, proceeds, royaltyRecv, royalty, fee string

	err := scanner.Scan(
		&st.ID, &itemID, &orderID, &nftContract,
		&tokenID, &amount, &paymentToken, &price, &seller, &buyer,
		&proceeds, &royaltyRecv, &royalty, &fee, &st.SettledAt,
	)
	if err != nil {
		return domain.Settlement{}, err
	}

	st.MarketItemID = uint64(itemID)
	st.OrderID = uint64(orderID)
	st.NFTContract = common.HexToAddress(nftContract)
	st.PaymentToken = common.HexToAddress(paymentToken)
	st.Seller = common.HexToAddress(seller)
	st.Buyer = common.HexToAddress(buyer)
	st.RoyaltyReceiver = common.HexToAddress(royaltyRecv)

	if st.TokenID, err = parseBig(tokenID); err != nil {
		return domain.Settlement{}, fmt.Errorf("token_id: %w", err)
	}
	if st.Amount, err = parseBig(amount); err != nil {
		return domain.Settlement{}, fmt.Errorf("amount: %w", err)
	}
	if st.Price, err = parseBig(price); err != nil {
		return domain.Settlement{}, fmt.Errorf("price: %w", err)
	}
	if st.SellerProceeds, err = parseBig(proceeds); err != nil {
		return domain.Settlement{}, fmt.Errorf("seller_proceeds: %w", err)
	}
	if st.RoyaltyAmount, err = parseBig(royalty); err != nil {
		return domain.Settlement{}, fmt.Errorf("royalty_amount: %w", err)
	}
	if st.MarketplaceFee, err = parseBig(fee); err != nil {
		return domain.Settlement{}, fmt.Errorf("marketplace_fee: %w", err)
	}

	return st, nil
}

// GetByID retrieves a settlement by its UUID.
// It returns domain.ErrNotFound when no row exists.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE id = $1`

	st, err := scanSettlement(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return st, nil
}

// ListRecent returns the most recent settlements, newest first.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + settlementSelectCols + ` FROM settlements
		ORDER BY settled_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
