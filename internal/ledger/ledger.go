// Package ledger tracks fund balances for the settlement engine: native
// currency and token balances per account, plus token allowances. The order
// manager escrows bids and routes settlement payouts through it.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory balance book. The native currency is kept under the
// domain.NativeToken address like any other token.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int // token -> account -> balance
	allowances map[allowanceKey]*big.Int
}

func New() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Deposit credits amount of token to account. Used to seed balances.
func (l *Ledger) Deposit(token, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

// BalanceOf returns account's balance of token.
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[token][account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Approve lets spender move up to amount of owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

// Allowance returns the remaining amount spender may move from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// TransferFrom moves amount of token from owner to recipient on spender's
// authority, consuming allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{token, from, spender}
	allowed := l.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: allowance of %s for %s: %w", from.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowed, amount)
	return nil
}

// move and credit assume the lock is held.

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative transfer: %w", domain.ErrInvalidAmount)
	}
	fromBal := l.balances[token][from]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: balance of %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	l.balances[token][from] = new(big.Int).Sub(fromBal, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *Ledger) credit(token, account common.Address, amount *big.Int) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	cur := l.balances[token][account]
	if cur == nil {
		cur = new(big.Int)
	}
	l.balances[token][account] = new(big.Int).Add(cur, amount)
}
