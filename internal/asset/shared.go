package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// SharedCollection is an in-memory shared-supply collection: each token id
// carries per-owner balances.
type SharedCollection struct {
	mu       sync.RWMutex
	balances map[string]map[common.Address]*big.Int // tokenID -> owner -> balance
	royalty  royaltyConfig
	perTok   map[string]royaltyConfig
}

func NewSharedCollection() *SharedCollection {
	return &SharedCollection{
		balances: make(map[string]map[common.Address]*big.Int),
		perTok:   make(map[string]royaltyConfig),
	}
}

// SetDefaultRoyalty configures the collection-wide royalty.
func (c *SharedCollection) SetDefaultRoyalty(receiver common.Address, bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.royalty = royaltyConfig{receiver: receiver, bps: bps}
}

// SetTokenRoyalty overrides the royalty for one token id.
func (c *SharedCollection) SetTokenRoyalty(tokenID *big.Int, receiver common.Address, bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perTok[tokenID.String()] = royaltyConfig{receiver: receiver, bps: bps}
}

// Mint credits amount units of tokenID to owner.
func (c *SharedCollection) Mint(owner common.Address, tokenID, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	if c.balances[key] == nil {
		c.balances[key] = make(map[common.Address]*big.Int)
	}
	cur := c.balances[key][owner]
	if cur == nil {
		cur = new(big.Int)
	}
	c.balances[key][owner] = new(big.Int).Add(cur, amount)
}

func (c *SharedCollection) BalanceOf(owner common.Address, tokenID *big.Int) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if bal, ok := c.balances[tokenID.String()][owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (c *SharedCollection) Transfer(from, to common.Address, tokenID, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	fromBal := c.balances[key][from]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("asset: token %s balance of %s below %s: %w", tokenID, from.Hex(), amount, domain.ErrUserDoesNotOwnToken)
	}
	c.balances[key][from] = new(big.Int).Sub(fromBal, amount)
	toBal := c.balances[key][to]
	if toBal == nil {
		toBal = new(big.Int)
	}
	c.balances[key][to] = new(big.Int).Add(toBal, amount)
	return nil
}

func (c *SharedCollection) RoyaltyInfo(tokenID, salePrice *big.Int) (common.Address, *big.Int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rc, ok := c.perTok[tokenID.String()]; ok {
		return rc.amountFor(salePrice)
	}
	return c.royalty.amountFor(salePrice)
}

var _ SharedSupply = (*SharedCollection)(nil)
