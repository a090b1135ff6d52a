package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

func TestRequestResolution_DerivedUniqueIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.openMarket(t, env.params(1))

	r1, err := env.oracle.RequestResolution(ctx, m.ID(), []byte("a"))
	require.NoError(t, err)
	r2, err := env.oracle.RequestResolution(ctx, m.ID(), []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, r1.RequestID, r2.RequestID)
	assert.Equal(t, domain.ResolutionPending, r1.Status)
	assert.Equal(t, m.ID(), r1.MarketID)

	got, err := env.oracle.GetRequest(r1.RequestID)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got.Data)
}

func TestRequestResolution_UnknownMarket(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.oracle.RequestResolution(context.Background(), common.HexToHash("0xdead"), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve_OperatorGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.openMarket(t, env.params(1))

	req, err := env.oracle.RequestResolution(ctx, m.ID(), nil)
	require.NoError(t, err)

	_, err = env.oracle.Resolve(ctx, alice, req.RequestID, 0, common.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.True(t, env.oracle.IsOperator(testOperator))
	assert.False(t, env.oracle.IsOperator(alice))
}

func TestResolve_UnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.oracle.Resolve(context.Background(), testOperator, common.HexToHash("0xdead"), 0, common.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnknownRequest)
}

func TestResolve_ConsumedExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.openMarket(t, env.params(1))
	env.clock.Advance(2 * time.Hour)
	require.NoError(t, m.Close(ctx))

	req, err := env.oracle.RequestResolution(ctx, m.ID(), nil)
	require.NoError(t, err)

	resolved, err := env.oracle.Resolve(ctx, testOperator, req.RequestID, 1, common.HexToHash("0xe1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionResolved, resolved.Status)
	assert.Equal(t, 1, resolved.Outcome)
	assert.Equal(t, domain.MarketStateProposed, m.State())

	_, err = env.oracle.Resolve(ctx, testOperator, req.RequestID, 0, common.Hash{})
	assert.ErrorIs(t, err, domain.ErrRequestConsumed)
}

func TestResolve_MarketStillOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.openMarket(t, env.params(1))

	req, err := env.oracle.RequestResolution(ctx, m.ID(), nil)
	require.NoError(t, err)

	// The market guard rejects the proposal and the request stays pending,
	// so the operator can retry once the market is closed.
	_, err = env.oracle.Resolve(ctx, testOperator, req.RequestID, 0, common.Hash{})
	assert.ErrorIs(t, err, domain.ErrWrongState)

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, m.Close(ctx))
	_, err = env.oracle.Resolve(ctx, testOperator, req.RequestID, 0, common.Hash{})
	require.NoError(t, err)
}

func TestResolve_InvalidOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.openMarket(t, env.params(1))
	env.clock.Advance(2 * time.Hour)
	require.NoError(t, m.Close(ctx))

	req, err := env.oracle.RequestResolution(ctx, m.ID(), nil)
	require.NoError(t, err)

	_, err = env.oracle.Resolve(ctx, testOperator, req.RequestID, 5, common.Hash{})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	assert.Equal(t, domain.MarketStateClosed, m.State())
}
