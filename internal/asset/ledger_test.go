package asset

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

var (
	owner     = common.HexToAddress("0x01")
	spender   = common.HexToAddress("0x02")
	recipient = common.HexToAddress("0x03")
)

func TestTransfer_MovesExactAmount(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, owner, big.NewInt(1_000)))

	require.NoError(t, l.Transfer(ctx, owner, recipient, big.NewInt(400)))

	ob, _ := l.BalanceOf(ctx, owner)
	rb, _ := l.BalanceOf(ctx, recipient)
	assert.Equal(t, int64(600), ob.Int64())
	assert.Equal(t, int64(400), rb.Int64())
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, owner, big.NewInt(100)))

	err := l.Transfer(ctx, owner, recipient, big.NewInt(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Nothing moved.
	ob, _ := l.BalanceOf(ctx, owner)
	assert.Equal(t, int64(100), ob.Int64())
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, owner, big.NewInt(1_000)))
	require.NoError(t, l.Approve(ctx, owner, spender, big.NewInt(500)))

	require.NoError(t, l.TransferFrom(ctx, spender, owner, recipient, big.NewInt(300)))

	remaining, _ := l.Allowance(ctx, owner, spender)
	assert.Equal(t, int64(200), remaining.Int64())

	err := l.TransferFrom(ctx, spender, owner, recipient, big.NewInt(300))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestTransferFrom_BalanceCheckedAfterAllowance(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, owner, big.NewInt(100)))
	require.NoError(t, l.Approve(ctx, owner, spender, big.NewInt(1_000)))

	err := l.TransferFrom(ctx, spender, owner, recipient, big.NewInt(500))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Allowance must not be burned by a failed transfer.
	remaining, _ := l.Allowance(ctx, owner, spender)
	assert.Equal(t, int64(1_000), remaining.Int64())
}

func TestBalanceOf_ReturnsCopy(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, owner, big.NewInt(100)))

	b, _ := l.BalanceOf(ctx, owner)
	b.SetInt64(0)

	again, _ := l.BalanceOf(ctx, owner)
	assert.Equal(t, int64(100), again.Int64())
}
