package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openverse-labs/nftmarket/internal/domain"
)

var (
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	spender = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	token   = common.HexToAddress("0x000000000000000000000000000000000000700e")
)

func TestTransfer(t *testing.T) {
	t.Run("moves balance", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(100))
		if err := l.Transfer(token, alice, bob, big.NewInt(60)); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if got := l.BalanceOf(token, alice); got.Cmp(big.NewInt(40)) != 0 {
			t.Errorf("alice = %s, want 40", got)
		}
		if got := l.BalanceOf(token, bob); got.Cmp(big.NewInt(60)) != 0 {
			t.Errorf("bob = %s, want 60", got)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(10))
		err := l.Transfer(token, alice, bob, big.NewInt(11))
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("err = %v, want ErrInsufficientBalance", err)
		}
		if got := l.BalanceOf(token, alice); got.Cmp(big.NewInt(10)) != 0 {
			t.Errorf("alice = %s, want untouched 10", got)
		}
	})

	t.Run("native balances are tracked under the zero address", func(t *testing.T) {
		l := New()
		l.Deposit(domain.NativeToken, alice, big.NewInt(5))
		if err := l.Transfer(domain.NativeToken, alice, bob, big.NewInt(5)); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if got := l.BalanceOf(domain.NativeToken, bob); got.Cmp(big.NewInt(5)) != 0 {
			t.Errorf("bob native = %s, want 5", got)
		}
	})
}

func TestTransferFrom(t *testing.T) {
	t.Run("consumes allowance", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(100))
		l.Approve(token, alice, spender, big.NewInt(80))

		if err := l.TransferFrom(token, spender, alice, bob, big.NewInt(50)); err != nil {
			t.Fatalf("transferFrom: %v", err)
		}
		if got := l.Allowance(token, alice, spender); got.Cmp(big.NewInt(30)) != 0 {
			t.Errorf("allowance = %s, want 30", got)
		}
		if got := l.BalanceOf(token, bob); got.Cmp(big.NewInt(50)) != 0 {
			t.Errorf("bob = %s, want 50", got)
		}
	})

	t.Run("insufficient allowance", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(100))
		l.Approve(token, alice, spender, big.NewInt(10))
		err := l.TransferFrom(token, spender, alice, bob, big.NewInt(11))
		if !errors.Is(err, domain.ErrInsufficientAllowance) {
			t.Errorf("err = %v, want ErrInsufficientAllowance", err)
		}
	})

	t.Run("no allowance at all", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(100))
		err := l.TransferFrom(token, spender, alice, bob, big.NewInt(1))
		if !errors.Is(err, domain.ErrInsufficientAllowance) {
			t.Errorf("err = %v, want ErrInsufficientAllowance", err)
		}
	})

	t.Run("allowance intact when balance is short", func(t *testing.T) {
		l := New()
		l.Deposit(token, alice, big.NewInt(5))
		l.Approve(token, alice, spender, big.NewInt(100))
		err := l.TransferFrom(token, spender, alice, bob, big.NewInt(50))
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("err = %v, want ErrInsufficientBalance", err)
		}
		if got := l.Allowance(token, alice, spender); got.Cmp(big.NewInt(100)) != 0 {
			t.Errorf("allowance = %s, want untouched 100", got)
		}
	})
}
