package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// royaltyConfig is a parts-per-ten-thousand royalty bound to a receiver.
type royaltyConfig struct {
	receiver common.Address
	bps      int64
}

func (rc royaltyConfig) amountFor(salePrice *big.Int) (common.Address, *big.Int) {
	if rc.bps == 0 || rc.receiver == (common.Address{}) {
		return common.Address{}, new(big.Int)
	}
	amount := new(big.Int).Mul(salePrice, big.NewInt(rc.bps))
	amount.Div(amount, big.NewInt(10_000))
	return rc.receiver, amount
}

// SingleCollection is an in-memory single-owner collection: every token id
// has exactly one owner.
type SingleCollection struct {
	mu      sync.RWMutex
	owners  map[string]common.Address // tokenID -> owner
	royalty royaltyConfig
	perTok  map[string]royaltyConfig
}

func NewSingleCollection() *SingleCollection {
	return &SingleCollection{
		owners: make(map[string]common.Address),
		perTok: make(map[string]royaltyConfig),
	}
}

// SetDefaultRoyalty configures the collection-wide royalty.
func (c *SingleCollection) SetDefaultRoyalty(receiver common.Address, bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.royalty = royaltyConfig{receiver: receiver, bps: bps}
}

// SetTokenRoyalty overrides the royalty for one token id.
func (c *SingleCollection) SetTokenRoyalty(tokenID *big.Int, receiver common.Address, bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perTok[tokenID.String()] = royaltyConfig{receiver: receiver, bps: bps}
}

// Mint assigns a fresh token id to owner. Minting over an existing id fails.
func (c *SingleCollection) Mint(owner common.Address, tokenID *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	if _, ok := c.owners[key]; ok {
		return fmt.Errorf("asset: token %s already minted", key)
	}
	c.owners[key] = owner
	return nil
}

func (c *SingleCollection) OwnerOf(tokenID *big.Int) (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("asset: token %s: %w", tokenID, domain.ErrTokenNotExisted)
	}
	return owner, nil
}

func (c *SingleCollection) Transfer(from, to common.Address, tokenID *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	owner, ok := c.owners[key]
	if !ok {
		return fmt.Errorf("asset: token %s: %w", tokenID, domain.ErrTokenNotExisted)
	}
	if owner != from {
		return fmt.Errorf("asset: token %s held by %s not %s: %w", tokenID, owner.Hex(), from.Hex(), domain.ErrUserDoesNotOwnToken)
	}
	c.owners[key] = to
	return nil
}

func (c *SingleCollection) RoyaltyInfo(tokenID, salePrice *big.Int) (common.Address, *big.Int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rc, ok := c.perTok[tokenID.String()]; ok {
		return rc.amountFor(salePrice)
	}
	return c.royalty.amountFor(salePrice)
}

var _ SingleOwner = (*SingleCollection)(nil)
