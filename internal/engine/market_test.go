package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

func TestPlaceBet_Conservation(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice, bob, carol)

	env.bet(t, m, alice, 0, 1_000)
	env.bet(t, m, alice, 0, 2_000)
	env.bet(t, m, bob, 1, 7_000)
	env.bet(t, m, carol, 1, 500)

	total := m.TotalPool()
	assert.Equal(t, int64(10_500), total.Int64())

	// totalPool == sum of outcome pools.
	poolSum := new(big.Int)
	for i := 0; i < 2; i++ {
		p, err := m.OutcomePool(i)
		require.NoError(t, err)
		poolSum.Add(poolSum, p)
	}
	assert.Zero(t, total.Cmp(poolSum))

	// totalPool == sum of all positions.
	posSum := new(big.Int)
	for _, acct := range []common.Address{alice, bob, carol} {
		for _, stake := range m.Position(acct).Stakes {
			posSum.Add(posSum, stake)
		}
	}
	assert.Zero(t, total.Cmp(posSum))

	// Escrow holds exactly the pool.
	bal, err := env.ledger.BalanceOf(context.Background(), m.Escrow())
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(bal))
}

func TestPlaceBet_CreditsReceiverNotPayer(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)

	// Alice pays, Bob holds the position (relay pattern).
	require.NoError(t, m.PlaceBet(context.Background(), alice, bob, 0, big.NewInt(500), "bet-42"))

	assert.Equal(t, int64(500), m.Position(bob).Stakes[0].Int64())
	assert.Zero(t, m.Position(alice).Stakes[0].Sign())
}

func TestPlaceBet_Guards(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()

	err := m.PlaceBet(ctx, alice, alice, 2, big.NewInt(100), "")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	err = m.PlaceBet(ctx, alice, alice, -1, big.NewInt(100), "")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	err = m.PlaceBet(ctx, alice, alice, 0, big.NewInt(0), "")
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	err = m.PlaceBet(ctx, alice, alice, 0, nil, "")
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	// Bob never approved the escrow.
	err = m.PlaceBet(ctx, bob, bob, 0, big.NewInt(100), "")
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Zero(t, m.TotalPool().Sign())

	// Past the close time every bet reverts, closed or not.
	env.clock.Advance(2 * time.Hour)
	err = m.PlaceBet(ctx, alice, alice, 0, big.NewInt(100), "")
	assert.ErrorIs(t, err, domain.ErrBettingClosed)

	require.NoError(t, m.Close(ctx))
	err = m.PlaceBet(ctx, alice, alice, 0, big.NewInt(100), "")
	assert.ErrorIs(t, err, domain.ErrWrongState)
}

func TestClose_BeforeCloseTime(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1))

	err := m.Close(context.Background())
	assert.ErrorIs(t, err, domain.ErrCloseTooEarly)
	assert.Equal(t, domain.MarketStateOpen, m.State())
}

func TestClose_Transitions(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1))
	ctx := context.Background()

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, domain.MarketStateClosed, m.State())

	// Closing twice is a state-guard violation.
	assert.ErrorIs(t, m.Close(ctx), domain.ErrWrongState)
}

func TestSettlement_ReferenceScenario(t *testing.T) {
	// Outcome-0 pool 3,000; outcome-1 pool 7,000; fee 200 bps.
	// fee = 200, distributable = 9,800; the sole outcome-0 staker takes
	// the whole 9,800 and the losing-side staker gets 0.
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice, bob)
	ctx := context.Background()

	env.bet(t, m, alice, 0, 3_000)
	env.bet(t, m, bob, 1, 7_000)

	env.finalizeTo(t, m, 0)
	assert.Equal(t, domain.MarketStateFinal, m.State())
	assert.Equal(t, 0, m.FinalOutcome())

	treasuryBal, err := env.ledger.BalanceOf(ctx, testTreasury)
	require.NoError(t, err)
	assert.Equal(t, int64(200), treasuryBal.Int64())

	assert.Equal(t, int64(9_800), m.Claimable(alice).Int64())
	assert.Zero(t, m.Claimable(bob).Sign())

	payout, err := m.Claim(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(9_800), payout.Int64())

	// Losing-side claim transfers nothing but still marks the account.
	payout, err = m.Claim(ctx, bob, bob)
	require.NoError(t, err)
	assert.Zero(t, payout.Sign())

	_, err = m.Claim(ctx, bob, bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestFinalize_DuringDisputeWindow(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	env.bet(t, m, alice, 0, 100)

	env.resolveTo(t, m, 0)
	err := m.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrDisputeWindowOpen)
	assert.Equal(t, domain.MarketStateProposed, m.State())
}

func TestFinalize_FeeExtractedOnce(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()
	env.bet(t, m, alice, 0, 10_000)

	env.finalizeTo(t, m, 0)

	// A second finalize is a state-guard violation and must not move fees.
	assert.ErrorIs(t, m.Finalize(ctx), domain.ErrWrongState)
	treasuryBal, err := env.ledger.BalanceOf(ctx, testTreasury)
	require.NoError(t, err)
	assert.Equal(t, int64(200), treasuryBal.Int64())
}

func TestDispute_ReopensMarket(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()
	env.bet(t, m, alice, 0, 100)

	env.resolveTo(t, m, 1)
	require.NoError(t, m.Dispute(ctx, common.HexToHash("0xbad")))
	assert.Equal(t, domain.MarketStateClosed, m.State())
	assert.Equal(t, domain.NoOutcome, m.Snapshot().ProposedOutcome)

	// Finalize needs a fresh resolution after a dispute.
	assert.ErrorIs(t, m.Finalize(ctx), domain.ErrWrongState)

	req, err := env.oracle.RequestResolution(ctx, m.ID(), nil)
	require.NoError(t, err)
	_, err = env.oracle.Resolve(ctx, testOperator, req.RequestID, 0, common.HexToHash("0xe2"))
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	require.NoError(t, m.Finalize(ctx))
	assert.Equal(t, 0, m.FinalOutcome())
}

func TestDispute_AfterWindow(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	env.bet(t, m, alice, 0, 100)

	env.resolveTo(t, m, 0)
	env.clock.Advance(time.Hour)

	err := m.Dispute(context.Background(), common.HexToHash("0xbad"))
	assert.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
}

func TestCancel_RefundEquivalence(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice, bob, carol)
	ctx := context.Background()

	env.bet(t, m, alice, 0, 3_333)
	env.bet(t, m, bob, 1, 6_667)
	env.bet(t, m, carol, 0, 1)
	total := m.TotalPool()

	require.NoError(t, env.factory.CancelMarket(ctx, testAdmin, m.ID()))
	assert.Equal(t, domain.MarketStateCancelled, m.State())

	// Refunds return exact stakes: no fee, no rounding loss.
	refunded := new(big.Int)
	for _, acct := range []common.Address{alice, bob, carol} {
		r, err := m.ClaimRefund(ctx, acct, acct)
		require.NoError(t, err)
		refunded.Add(refunded, r)
	}
	assert.Zero(t, total.Cmp(refunded))

	escrowBal, err := env.ledger.BalanceOf(ctx, m.Escrow())
	require.NoError(t, err)
	assert.Zero(t, escrowBal.Sign())

	_, err = m.ClaimRefund(ctx, alice, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestCancel_OnlyBeforeFinal(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()
	env.bet(t, m, alice, 0, 100)

	env.finalizeTo(t, m, 0)
	err := env.factory.CancelMarket(ctx, testAdmin, m.ID())
	assert.ErrorIs(t, err, domain.ErrWrongState)
}

func TestRefund_RequiresCancelledState(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	env.bet(t, m, alice, 0, 100)

	_, err := m.ClaimRefund(context.Background(), alice, alice)
	assert.ErrorIs(t, err, domain.ErrWrongState)
}

func TestClaim_SharedFlagBlocksRefundAfterClaim(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()
	env.bet(t, m, alice, 0, 100)

	env.finalizeTo(t, m, 0)
	_, err := m.Claim(ctx, alice, alice)
	require.NoError(t, err)

	_, err = m.Claim(ctx, alice, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaim_PayoutToSeparateReceiver(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	ctx := context.Background()
	env.bet(t, m, alice, 0, 1_000)

	env.finalizeTo(t, m, 0)
	payout, err := m.Claim(ctx, alice, carol)
	require.NoError(t, err)

	carolBal, err := env.ledger.BalanceOf(ctx, carol)
	require.NoError(t, err)
	assert.Zero(t, payout.Cmp(carolBal))
}

func TestClaim_RoundingDustStaysInEscrow(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)
	params.FeeBps = 0
	m := env.openMarket(t, params, alice, bob, carol)
	ctx := context.Background()

	// Three equal winners over a pool that does not divide evenly:
	// distributable = 1,000, each share truncates to 333.
	env.bet(t, m, alice, 0, 100)
	env.bet(t, m, bob, 0, 100)
	env.bet(t, m, carol, 0, 100)
	env.fund(t, testOperator, m, 1_000)
	require.NoError(t, m.PlaceBet(ctx, testOperator, testOperator, 1, big.NewInt(700), ""))

	env.finalizeTo(t, m, 0)

	paid := new(big.Int)
	for _, acct := range []common.Address{alice, bob, carol} {
		p, err := m.Claim(ctx, acct, acct)
		require.NoError(t, err)
		assert.Equal(t, int64(333), p.Int64())
		paid.Add(paid, p)
	}

	// The residual unit is retained, never swept.
	escrowBal, err := env.ledger.BalanceOf(ctx, m.Escrow())
	require.NoError(t, err)
	assert.Equal(t, int64(1), escrowBal.Int64())
}

func TestClaim_PayoutMonotonicInStake(t *testing.T) {
	payoutFor := func(t *testing.T, stake int64) int64 {
		env := newTestEnv(t)
		params := env.params(1)
		m := env.openMarket(t, params, alice, bob, carol)
		env.bet(t, m, alice, 0, stake)
		env.bet(t, m, bob, 0, 1_000)
		env.bet(t, m, carol, 1, 5_000)
		env.finalizeTo(t, m, 0)
		p, err := m.Claim(context.Background(), alice, alice)
		require.NoError(t, err)
		return p.Int64()
	}

	small := payoutFor(t, 500)
	large := payoutFor(t, 2_000)
	assert.GreaterOrEqual(t, large, small)
}

func TestClaimable_ZeroOutsideFinal(t *testing.T) {
	env := newTestEnv(t)
	m := env.openMarket(t, env.params(1), alice)
	env.bet(t, m, alice, 0, 100)

	assert.Zero(t, m.Claimable(alice).Sign())

	env.resolveTo(t, m, 0)
	assert.Zero(t, m.Claimable(alice).Sign())
}
