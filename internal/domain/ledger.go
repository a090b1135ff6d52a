package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger is the betting-asset balance book. It mirrors the ERC-20
// transfer/allowance surface so the engine, relay, and treasury all move
// value through the same primitive operations.
//
// Implementations must apply each call atomically: a transfer either moves
// the full amount or returns an error leaving both balances untouched.
type AssetLedger interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)

	// Approve sets the allowance of spender over owner's funds.
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error

	// Transfer moves amount from the caller-owned account to another.
	// Returns ErrInsufficientBalance when from cannot cover amount.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from owner to recipient on behalf of
	// spender, consuming allowance. Returns ErrInsufficientAllowance or
	// ErrInsufficientBalance on failure.
	TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *big.Int) error
}
