// Package asset provides the in-process betting-asset ledger. It implements
// domain.AssetLedger with ERC-20 transfer/allowance semantics over exact
// integer balances.
package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// Ledger is a mutex-guarded balance and allowance book. Every mutation is
// atomic: either the full amount moves or nothing does.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits newly issued units to an account. Used at bootstrap and by
// tests; there is no burn path.
func (l *Ledger) Mint(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset: mint: %w", domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (l *Ledger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account), nil
}

// Allowance returns a copy of the amount spender may move on owner's behalf.
func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowanceLocked(owner, spender), nil
}

// Approve sets spender's allowance over owner's funds, replacing any prior
// value.
func (l *Ledger) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("asset: approve: %w", domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset: transfer: %w", domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("asset: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	l.debit(from, amount)
	l.credit(to, amount)
	return nil
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance. The allowance and balance checks both pass before
// either book is touched.
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset: transfer-from: %w", domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("asset: transfer-from %s by %s: %w", owner.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if l.balanceLocked(owner).Cmp(amount) < 0 {
		return fmt.Errorf("asset: transfer-from %s: %w", owner.Hex(), domain.ErrInsufficientBalance)
	}

	l.allowances[owner][spender] = allowance.Sub(allowance, amount)
	l.debit(owner, amount)
	l.credit(recipient, amount)
	return nil
}

func (l *Ledger) balanceLocked(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (l *Ledger) credit(account common.Address, amount *big.Int) {
	if b, ok := l.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[account] = new(big.Int).Set(amount)
}

func (l *Ledger) debit(account common.Address, amount *big.Int) {
	l.balances[account].Sub(l.balances[account], amount)
}

// Compile-time interface check.
var _ domain.AssetLedger = (*Ledger)(nil)
