// Package token defines the fungible balance ledger funding contracts
// settle against. Contracts themselves hold balances under their contract
// ID, so escrowed principal, fee pools, and stake collateral are ordinary
// ledger entries.
package token

import (
	"context"
)

// Movement is one balance transfer applied as part of a contract state
// transition. Movements settle atomically with the transition that
// produced them. A non-empty Spender means the transfer draws on the
// allowance `From` granted to Spender, which is spent in the same step.
type Movement struct {
	From    string
	To      string
	Spender string
	Amount  uint64
}

// Ledger is the transferable balance ledger.
type Ledger interface {
	// BalanceOf returns the address's current balance.
	BalanceOf(ctx context.Context, address string) (uint64, error)
	// Mint credits freshly issued tokens to an address.
	Mint(ctx context.Context, to string, amount uint64) error
	// Transfer moves tokens between addresses.
	Transfer(ctx context.Context, from, to string, amount uint64) error
	// Approve lets spender move up to amount on owner's behalf.
	Approve(ctx context.Context, owner, spender string, amount uint64) error
	// Allowance returns the remaining approved amount.
	Allowance(ctx context.Context, owner, spender string) (uint64, error)
	// TransferFrom moves tokens out of `from` using spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error
}
