// Package asset models the NFT contracts the marketplace settles against:
// single-owner collections, shared-supply collections, and a registry that
// resolves which transfer primitive a contract supports by probing its
// declared capability rather than trusting a caller-supplied flag.
package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// Collection is the surface every registered asset contract exposes.
type Collection interface {
	// RoyaltyInfo returns the configured royalty receiver and the royalty
	// amount owed on salePrice. Assets without a royalty return the zero
	// address and a zero amount.
	RoyaltyInfo(tokenID, salePrice *big.Int) (common.Address, *big.Int)
}

// SingleOwner is the capability of collections where each token id has
// exactly one owner.
type SingleOwner interface {
	Collection
	OwnerOf(tokenID *big.Int) (common.Address, error)
	Transfer(from, to common.Address, tokenID *big.Int) error
}

// SharedSupply is the capability of collections where each token id carries
// per-owner balances.
type SharedSupply interface {
	Collection
	BalanceOf(owner common.Address, tokenID *big.Int) *big.Int
	Transfer(from, to common.Address, tokenID, amount *big.Int) error
}

// Registry resolves contract addresses to collections.
type Registry struct {
	mu          sync.RWMutex
	collections map[common.Address]Collection
}

func NewRegistry() *Registry {
	return &Registry{collections: make(map[common.Address]Collection)}
}

// Register adds a collection under its contract address.
func (r *Registry) Register(addr common.Address, c Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[addr] = c
}

// Probe resolves addr to its collection and detected standard. Unrecognized
// contracts and contracts exposing neither capability fail with
// domain.ErrTokenNotExisted.
func (r *Registry) Probe(addr common.Address) (Collection, domain.AssetStandard, error) {
	r.mu.RLock()
	c, ok := r.collections[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.StandardUnknown, fmt.Errorf("asset: contract %s: %w", addr.Hex(), domain.ErrTokenNotExisted)
	}

	switch c.(type) {
	case SingleOwner:
		return c, domain.StandardSingle, nil
	case SharedSupply:
		return c, domain.StandardShared, nil
	default:
		return nil, domain.StandardUnknown, fmt.Errorf("asset: contract %s has no transfer capability: %w", addr.Hex(), domain.ErrTokenNotExisted)
	}
}

// Holds reports whether owner currently holds at least amount units of the
// token, regardless of the collection's standard.
func (r *Registry) Holds(contract common.Address, owner common.Address, tokenID, amount *big.Int) (bool, error) {
	c, standard, err := r.Probe(contract)
	if err != nil {
		return false, err
	}
	switch standard {
	case domain.StandardSingle:
		cur, err := c.(SingleOwner).OwnerOf(tokenID)
		if err != nil {
			return false, err
		}
		return cur == owner && amount.Cmp(big.NewInt(1)) == 0, nil
	default:
		return c.(SharedSupply).BalanceOf(owner, tokenID).Cmp(amount) >= 0, nil
	}
}

// Move transfers amount units of the token using the collection's detected
// transfer primitive.
func (r *Registry) Move(contract common.Address, from, to common.Address, tokenID, amount *big.Int) error {
	c, standard, err := r.Probe(contract)
	if err != nil {
		return err
	}
	switch standard {
	case domain.StandardSingle:
		return c.(SingleOwner).Transfer(from, to, tokenID)
	default:
		return c.(SharedSupply).Transfer(from, to, tokenID, amount)
	}
}

// Royalty looks up the royalty split for a sale of the token at salePrice.
func (r *Registry) Royalty(contract common.Address, tokenID, salePrice *big.Int) (common.Address, *big.Int, error) {
	c, _, err := r.Probe(contract)
	if err != nil {
		return common.Address{}, nil, err
	}
	receiver, amount := c.RoyaltyInfo(tokenID, salePrice)
	return receiver, amount, nil
}
