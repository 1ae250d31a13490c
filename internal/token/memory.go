package token

import (
	"context"
	"sync"

	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
)

// MemoryLedger is an in-process Ledger for tests and single-node setups.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[string]uint64
	allowances map[allowanceKey]uint64
}

type allowanceKey struct {
	owner   string
	spender string
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[string]uint64),
		allowances: make(map[allowanceKey]uint64),
	}
}

// BalanceOf returns the address's current balance.
func (l *MemoryLedger) BalanceOf(ctx context.Context, address string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address], nil
}

// Mint credits freshly issued tokens to an address.
func (l *MemoryLedger) Mint(ctx context.Context, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] += amount
	return nil
}

// Transfer moves tokens between addresses.
func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

func (l *MemoryLedger) transferLocked(from, to string, amount uint64) error {
	if l.balances[from] < amount {
		return apperrors.WithMetadata(apperrors.CodeInsufficientBalance,
			"balance too low for transfer",
			map[string]string{"address": from})
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// Approve lets spender move up to amount on owner's behalf.
func (l *MemoryLedger) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner: owner, spender: spender}] = amount
	return nil
}

// Allowance returns the remaining approved amount.
func (l *MemoryLedger) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{owner: owner, spender: spender}], nil
}

// TransferFrom moves tokens out of `from` using spender's allowance.
func (l *MemoryLedger) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner: from, spender: spender}
	if l.allowances[key] < amount {
		return apperrors.WithMetadata(apperrors.CodeInsufficientAllowance,
			"allowance too low for transfer",
			map[string]string{"owner": from, "spender": spender})
	}
	if err := l.transferLocked(from, to, amount); err != nil {
		return err
	}
	l.allowances[key] -= amount
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
