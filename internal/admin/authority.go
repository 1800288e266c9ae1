// Package admin is the permission registry the settlement core consults:
// which addresses administrate the marketplace, which payment tokens and NFT
// contracts are permitted, and whether offers require a membership holding.
package admin

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

// Authority answers access questions for the core. All mutators are gated to
// existing admins.
type Authority struct {
	mu                 sync.RWMutex
	admins             map[common.Address]bool
	paymentTokens      map[common.Address]bool
	nfts               map[common.Address]bool
	members            map[common.Address]bool
	requiresMembership bool
}

// New creates an Authority with an initial admin set. The native currency is
// always a permitted payment token.
func New(initialAdmins []common.Address) *Authority {
	a := &Authority{
		admins:        make(map[common.Address]bool),
		paymentTokens: map[common.Address]bool{domain.NativeToken: true},
		nfts:          make(map[common.Address]bool),
		members:       make(map[common.Address]bool),
	}
	for _, addr := range initialAdmins {
		a.admins[addr] = true
	}
	return a
}

func (a *Authority) IsAdmin(addr common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admins[addr]
}

func (a *Authority) IsPermittedPaymentToken(token common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paymentTokens[token]
}

func (a *Authority) IsPermittedNFT(contract common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nfts[contract]
}

// RequiresMembershipToken reports whether listing-scoped offers and buys are
// gated to membership holders.
func (a *Authority) RequiresMembershipToken() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.requiresMembership
}

func (a *Authority) HoldsMembershipToken(addr common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.members[addr]
}

func (a *Authority) requireAdmin(caller common.Address) error {
	if !a.admins[caller] {
		return fmt.Errorf("admin: caller %s: %w", caller.Hex(), domain.ErrNotAdmin)
	}
	return nil
}

// SetAdmin grants or revokes admin rights. Admin only.
func (a *Authority) SetAdmin(caller, addr common.Address, allowed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireAdmin(caller); err != nil {
		return err
	}
	a.admins[addr] = allowed
	return nil
}

// SetPermittedPaymentToken allows or forbids a payment token. Admin only.
func (a *Authority) SetPermittedPaymentToken(caller, token common.Address, allowed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireAdmin(caller); err != nil {
		return err
	}
	a.paymentTokens[token] = allowed
	return nil
}

// SetPermittedNFT allows or forbids an NFT contract. Admin only.
func (a *Authority) SetPermittedNFT(caller, contract common.Address, allowed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireAdmin(caller); err != nil {
		return err
	}
	a.nfts[contract] = allowed
	return nil
}

// SetMembershipRequired toggles the membership gate. Admin only.
func (a *Authority) SetMembershipRequired(caller common.Address, required bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireAdmin(caller); err != nil {
		return err
	}
	a.requiresMembership = required
	return nil
}

// SetMember grants or revokes a membership holding. Admin only.
func (a *Authority) SetMember(caller, addr common.Address, member bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireAdmin(caller); err != nil {
		return err
	}
	a.members[addr] = member
	return nil
}
