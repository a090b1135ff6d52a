package relay

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/asset"
	busmem "github.com/agoramarkets/parimutuel/internal/bus/memory"
	"github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/engine"
	"github.com/agoramarkets/parimutuel/internal/service"
	storemem "github.com/agoramarkets/parimutuel/internal/store/memory"
)

const (
	agentKeyHex   = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	relayerKeyHex = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

var (
	relayTreasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	relayAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

type relayClock struct {
	now time.Time
}

func (c *relayClock) Now() time.Time          { return c.now }
func (c *relayClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type relayEnv struct {
	ledger   *asset.Ledger
	clock    *relayClock
	factory  *engine.Factory
	bets     *storemem.BetStore
	relayer  *Relayer
	agent    *crypto.Signer
	marketID common.Hash
	escrow   common.Address
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	clock := &relayClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ledger := asset.NewLedger()
	factory := engine.NewFactory(engine.MarketTemplate{
		Ledger:   ledger,
		Treasury: relayTreasury,
		Admin:    relayAdmin,
		Clock:    clock,
		Logger:   logger,
	})

	bets := storemem.NewBetStore()
	svc := service.NewMarketService(
		factory,
		storemem.NewMarketStore(),
		bets,
		storemem.NewSettlementStore(),
		storemem.NewAuditStore(),
		busmem.NewSignalBus(),
		clock,
		logger,
	)

	relaySigner, err := crypto.NewSigner(relayerKeyHex)
	require.NoError(t, err)
	agent, err := crypto.NewSigner(agentKeyHex)
	require.NoError(t, err)

	relayer := NewRelayer(relaySigner, ledger, factory, svc, busmem.NewLockManager(), logger)

	marketID := common.HexToHash("0x01")
	m, err := factory.CreateMarket(ctx, domain.MarketParams{
		MarketID:      marketID,
		OutcomeCount:  2,
		FeeBps:        200,
		CloseTime:     clock.Now().Add(time.Hour),
		DisputeWindow: 30 * time.Minute,
	})
	require.NoError(t, err)

	return &relayEnv{
		ledger:   ledger,
		clock:    clock,
		factory:  factory,
		bets:     bets,
		relayer:  relayer,
		agent:    agent,
		marketID: marketID,
		escrow:   m.Escrow(),
	}
}

// fundAgent mints to the agent wallet and grants the relayer allowance.
func (e *relayEnv) fundAgent(t *testing.T, balance, allowance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.Mint(ctx, e.agent.Address(), big.NewInt(balance)))
	require.NoError(t, e.ledger.Approve(ctx, e.agent.Address(), e.relayer.Address(), big.NewInt(allowance)))
}

func (e *relayEnv) intent(outcome int, amount int64, betID string) crypto.BetIntent {
	return crypto.BetIntent{
		MarketID: e.marketID,
		Outcome:  outcome,
		Amount:   big.NewInt(amount),
		Agent:    e.agent.Address(),
		Relayer:  e.relayer.Address(),
		BetID:    betID,
	}
}

func TestPlaceRelayedBet_CreditsAgentPosition(t *testing.T) {
	env := newRelayEnv(t)
	ctx := context.Background()
	env.fundAgent(t, 10_000, 10_000)

	intent := env.intent(0, 3_000, "bet-1")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	bet, err := env.relayer.PlaceRelayedBet(ctx, intent, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusAccepted, bet.Status)
	assert.Equal(t, "bet-1", bet.OffchainBetID)
	assert.Equal(t, env.relayer.Address(), bet.Payer)
	assert.Equal(t, env.agent.Address(), bet.Receiver)

	m, err := env.factory.GetMarket(env.marketID)
	require.NoError(t, err)
	pos := m.Position(env.agent.Address())
	assert.Equal(t, "3000", pos.Stakes[0].String())

	agentBal, err := env.ledger.BalanceOf(ctx, env.agent.Address())
	require.NoError(t, err)
	assert.Equal(t, "7000", agentBal.String())

	relayBal, err := env.ledger.BalanceOf(ctx, env.relayer.Address())
	require.NoError(t, err)
	assert.Equal(t, "0", relayBal.String(), "relayer holds no residual custody")

	escrowBal, err := env.ledger.BalanceOf(ctx, env.escrow)
	require.NoError(t, err)
	assert.Equal(t, "3000", escrowBal.String())
}

func TestPlaceRelayedBet_GeneratesBetID(t *testing.T) {
	env := newRelayEnv(t)
	env.fundAgent(t, 1_000, 1_000)

	intent := env.intent(1, 500, "")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	bet, err := env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.NoError(t, err)
	assert.NotEmpty(t, bet.OffchainBetID)
}

func TestPlaceRelayedBet_RejectsForgedSignature(t *testing.T) {
	env := newRelayEnv(t)
	env.fundAgent(t, 1_000, 1_000)

	forger, err := crypto.NewSigner("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)

	intent := env.intent(0, 500, "bet-1")
	sig, err := forger.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceRelayedBet_RejectsWrongRelayer(t *testing.T) {
	env := newRelayEnv(t)
	env.fundAgent(t, 1_000, 1_000)

	intent := env.intent(0, 500, "bet-1")
	intent.Relayer = common.HexToAddress("0xdead")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceRelayedBet_PreflightBalance(t *testing.T) {
	env := newRelayEnv(t)
	env.fundAgent(t, 100, 1_000)

	intent := env.intent(0, 500, "bet-1")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestPlaceRelayedBet_PreflightAllowance(t *testing.T) {
	env := newRelayEnv(t)
	env.fundAgent(t, 1_000, 100)

	intent := env.intent(0, 500, "bet-1")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestPlaceRelayedBet_UnwindsCustodyOnRejection(t *testing.T) {
	env := newRelayEnv(t)
	ctx := context.Background()
	env.fundAgent(t, 1_000, 1_000)

	// Expire betting so the market rejects the placement after the
	// custody pull.
	env.clock.Advance(2 * time.Hour)

	intent := env.intent(0, 500, "bet-1")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(ctx, intent, sig)
	require.ErrorIs(t, err, domain.ErrBettingClosed)

	agentBal, err := env.ledger.BalanceOf(ctx, env.agent.Address())
	require.NoError(t, err)
	assert.Equal(t, "1000", agentBal.String(), "custody returned to agent")

	relayBal, err := env.ledger.BalanceOf(ctx, env.relayer.Address())
	require.NoError(t, err)
	assert.Equal(t, "0", relayBal.String())

	bets, err := env.bets.ListByMarket(ctx, env.marketID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetStatusFailed, bets[0].Status)
}

func TestPlaceRelayedBet_RejectsZeroAmount(t *testing.T) {
	env := newRelayEnv(t)

	intent := env.intent(0, 0, "bet-1")
	sig, err := env.agent.SignIntent(intent)
	require.NoError(t, err)

	_, err = env.relayer.PlaceRelayedBet(context.Background(), intent, sig)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}
