package engine

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/asset"
	"github.com/agoramarkets/parimutuel/internal/domain"
)

// fakeClock is a manually advanced clock for deadline tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var (
	testTreasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testOperator = common.HexToAddress("0x000000000000000000000000000000000000004c")

	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

type testEnv struct {
	ledger  *asset.Ledger
	clock   *fakeClock
	factory *Factory
	oracle  *OracleAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	ledger := asset.NewLedger()
	factory := NewFactory(MarketTemplate{
		Ledger:   ledger,
		Treasury: testTreasury,
		Admin:    testAdmin,
		Clock:    clock,
		Logger:   slog.New(slog.DiscardHandler),
	})
	oracle := NewOracleAdapter(factory, []common.Address{testOperator},
		common.HexToHash("0x5417"), slog.New(slog.DiscardHandler))
	return &testEnv{ledger: ledger, clock: clock, factory: factory, oracle: oracle}
}

func (e *testEnv) params(id byte) domain.MarketParams {
	return domain.MarketParams{
		MarketID:      common.BytesToHash([]byte{id}),
		OutcomeCount:  2,
		FeeBps:        200,
		CloseTime:     e.clock.Now().Add(time.Hour),
		DisputeWindow: 30 * time.Minute,
		MetadataHash:  common.HexToHash("0xbeef"),
	}
}

// openMarket creates a market and funds+approves the given bettors.
func (e *testEnv) openMarket(t *testing.T, params domain.MarketParams, bettors ...common.Address) *Market {
	t.Helper()
	ctx := context.Background()
	m, err := e.factory.CreateMarket(ctx, params)
	require.NoError(t, err)
	for _, b := range bettors {
		e.fund(t, b, m, 1_000_000)
	}
	return m
}

// fund mints units to the bettor and approves the market escrow to pull them.
func (e *testEnv) fund(t *testing.T, bettor common.Address, m *Market, units int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.Mint(ctx, bettor, big.NewInt(units)))
	require.NoError(t, e.ledger.Approve(ctx, bettor, m.Escrow(), big.NewInt(units)))
}

// bet places a self-attributed bet and fails the test on error.
func (e *testEnv) bet(t *testing.T, m *Market, bettor common.Address, outcome int, units int64) {
	t.Helper()
	require.NoError(t, m.PlaceBet(context.Background(), bettor, bettor, outcome, big.NewInt(units), ""))
}

// resolveTo drives an open market through close -> propose(outcome).
func (e *testEnv) resolveTo(t *testing.T, m *Market, outcome int) {
	t.Helper()
	ctx := context.Background()
	e.clock.Advance(2 * time.Hour)
	require.NoError(t, m.Close(ctx))
	req, err := e.oracle.RequestResolution(ctx, m.ID(), []byte("resolve"))
	require.NoError(t, err)
	_, err = e.oracle.Resolve(ctx, testOperator, req.RequestID, outcome, common.HexToHash("0xe1"))
	require.NoError(t, err)
}

// finalizeTo drives an open market all the way to Final with the given
// winning outcome.
func (e *testEnv) finalizeTo(t *testing.T, m *Market, outcome int) {
	t.Helper()
	e.resolveTo(t, m, outcome)
	e.clock.Advance(time.Hour)
	require.NoError(t, m.Finalize(context.Background()))
}
