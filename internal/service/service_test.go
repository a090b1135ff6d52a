package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/asset"
	busmem "github.com/agoramarkets/parimutuel/internal/bus/memory"
	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/engine"
	storemem "github.com/agoramarkets/parimutuel/internal/store/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var (
	svcTreasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	svcAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	svcOperator = common.HexToAddress("0x000000000000000000000000000000000000004c")
	svcAlice    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

type svcEnv struct {
	ledger      *asset.Ledger
	clock       *fakeClock
	factory     *engine.Factory
	adapter     *engine.OracleAdapter
	bus         *busmem.SignalBus
	markets     *storemem.MarketStore
	bets        *storemem.BetStore
	resolutions *storemem.ResolutionStore
	settlements *storemem.SettlementStore
	audit       *storemem.AuditStore
	svc         *MarketService
	oracle      *OracleService
}

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ledger := asset.NewLedger()
	factory := engine.NewFactory(engine.MarketTemplate{
		Ledger:   ledger,
		Treasury: svcTreasury,
		Admin:    svcAdmin,
		Clock:    clock,
		Logger:   logger,
	})
	adapter := engine.NewOracleAdapter(factory, []common.Address{svcOperator}, common.HexToHash("0x5a17"), logger)

	env := &svcEnv{
		ledger:      ledger,
		clock:       clock,
		factory:     factory,
		adapter:     adapter,
		bus:         busmem.NewSignalBus(),
		markets:     storemem.NewMarketStore(),
		bets:        storemem.NewBetStore(),
		resolutions: storemem.NewResolutionStore(),
		settlements: storemem.NewSettlementStore(),
		audit:       storemem.NewAuditStore(),
	}
	env.svc = NewMarketService(factory, env.markets, env.bets, env.settlements, env.audit, env.bus, clock, logger)
	env.oracle = NewOracleService(adapter, env.resolutions, nil, nil, env.bus, clock, logger)
	return env
}

func (e *svcEnv) params(id byte) domain.MarketParams {
	return domain.MarketParams{
		MarketID:      common.Hash{id},
		OutcomeCount:  2,
		FeeBps:        200,
		CloseTime:     e.clock.Now().Add(time.Hour),
		DisputeWindow: 30 * time.Minute,
	}
}

func (e *svcEnv) fund(t *testing.T, account common.Address, amount int64, escrow common.Address) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.Mint(ctx, account, big.NewInt(amount)))
	require.NoError(t, e.ledger.Approve(ctx, account, escrow, big.NewInt(amount)))
}

func TestCreateMarket_JournalsRecord(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)

	snap, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateOpen, snap.State)

	rec, err := env.markets.GetByID(ctx, params.MarketID)
	require.NoError(t, err)
	assert.Equal(t, params.MarketID, rec.MarketID)
	assert.Equal(t, domain.MarketStateOpen, rec.State)

	n, err := env.markets.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateMarket_PublishesEvent(t *testing.T) {
	env := newSvcEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := env.bus.Subscribe(ctx, domain.ChannelMarkets)
	require.NoError(t, err)

	_, err = env.svc.CreateMarket(ctx, env.params(1))
	require.NoError(t, err)

	select {
	case payload := <-events:
		var env2 domain.EventEnvelope
		require.NoError(t, json.Unmarshal(payload, &env2))
		assert.Equal(t, domain.EventMarketCreated, env2.Type)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestPlaceBet_JournalsAcceptedAndFailed(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)
	_, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	m, err := env.factory.GetMarket(params.MarketID)
	require.NoError(t, err)
	env.fund(t, svcAlice, 10_000, m.Escrow())

	require.NoError(t, env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 0, big.NewInt(3_000), "bet-1"))

	err = env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 9, big.NewInt(100), "bet-2")
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	bets, err := env.bets.ListByMarket(ctx, params.MarketID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.Equal(t, domain.BetStatusAccepted, bets[0].Status)
	assert.Equal(t, domain.BetStatusFailed, bets[1].Status)
	assert.NotEmpty(t, bets[1].FailReason)
}

func TestLifecycle_ThroughServices(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)
	_, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	m, err := env.factory.GetMarket(params.MarketID)
	require.NoError(t, err)
	env.fund(t, svcAlice, 10_000, m.Escrow())
	require.NoError(t, env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 0, big.NewInt(10_000), "bet-1"))

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.svc.Close(ctx, params.MarketID))

	req, err := env.oracle.RequestResolution(ctx, params.MarketID, []byte(`{"q":"winner"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionPending, req.Status)

	_, err = env.oracle.Resolve(ctx, svcOperator, req.RequestID, 0, []byte("evidence"), common.Hash{})
	require.NoError(t, err)

	stored, err := env.resolutions.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionResolved, stored.Status)
	assert.Equal(t, 0, stored.Outcome)
	assert.NotEqual(t, common.Hash{}, stored.EvidenceHash)

	env.clock.Advance(time.Hour)
	require.NoError(t, env.svc.Finalize(ctx, params.MarketID))

	payout, err := env.svc.Claim(ctx, params.MarketID, svcAlice, svcAlice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_800), payout)

	settled, err := env.settlements.GetByAccount(ctx, params.MarketID, svcAlice)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPayout, settled.Kind)
	assert.Equal(t, "9800", settled.Amount.String())

	rec, err := env.markets.GetByID(ctx, params.MarketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateFinal, rec.State)
}

func TestCancel_AdminGateAndRefundJournal(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)
	_, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	m, err := env.factory.GetMarket(params.MarketID)
	require.NoError(t, err)
	env.fund(t, svcAlice, 5_000, m.Escrow())
	require.NoError(t, env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 1, big.NewInt(5_000), "bet-1"))

	err = env.svc.Cancel(ctx, svcAlice, params.MarketID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, env.svc.Cancel(ctx, svcAdmin, params.MarketID))

	refund, err := env.svc.ClaimRefund(ctx, params.MarketID, svcAlice, svcAlice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000), refund)

	settled, err := env.settlements.GetByAccount(ctx, params.MarketID, svcAlice)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementRefund, settled.Kind)
}

func TestResolve_OperatorGate(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)
	_, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.svc.Close(ctx, params.MarketID))

	req, err := env.oracle.RequestResolution(ctx, params.MarketID, nil)
	require.NoError(t, err)

	_, err = env.oracle.Resolve(ctx, svcAlice, req.RequestID, 0, nil, common.Hash{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.True(t, env.oracle.IsOperator(svcOperator))
	assert.False(t, env.oracle.IsOperator(svcAlice))
}

func TestListBetsByAccount_SpansMarkets(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	for id := byte(1); id <= 2; id++ {
		params := env.params(id)
		_, err := env.svc.CreateMarket(ctx, params)
		require.NoError(t, err)
		m, err := env.factory.GetMarket(params.MarketID)
		require.NoError(t, err)
		env.fund(t, svcAlice, 1_000, m.Escrow())
		require.NoError(t, env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 0, big.NewInt(1_000), ""))
	}

	bets, err := env.svc.ListBetsByAccount(ctx, svcAlice, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.NotEqual(t, bets[0].MarketID, bets[1].MarketID)

	bets, err = env.svc.ListBetsByAccount(ctx, svcOperator, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, bets)
}

func TestGetSettlement_ReturnsJournaledEntry(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	params := env.params(1)
	_, err := env.svc.CreateMarket(ctx, params)
	require.NoError(t, err)
	m, err := env.factory.GetMarket(params.MarketID)
	require.NoError(t, err)
	env.fund(t, svcAlice, 3_000, m.Escrow())
	require.NoError(t, env.svc.PlaceBet(ctx, params.MarketID, svcAlice, svcAlice, 0, big.NewInt(3_000), ""))

	_, err = env.svc.GetSettlement(ctx, params.MarketID, svcAlice)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, env.svc.Cancel(ctx, svcAdmin, params.MarketID))
	_, err = env.svc.ClaimRefund(ctx, params.MarketID, svcAlice, svcAlice)
	require.NoError(t, err)

	st, err := env.svc.GetSettlement(ctx, params.MarketID, svcAlice)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementRefund, st.Kind)
	assert.Equal(t, "3000", st.Amount.String())
}
