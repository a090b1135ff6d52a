package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// MarketTemplate is the shared immutable configuration every market instance
// is stamped from. Per-instance state lives entirely in the Market.
type MarketTemplate struct {
	Ledger   domain.AssetLedger
	Treasury common.Address
	Admin    common.Address
	Clock    Clock
	Logger   *slog.Logger
}

// Factory creates markets from its template and keeps the write-once
// registry marketID -> *Market. It also holds the only cancellation trigger,
// gated on the configured admin.
type Factory struct {
	mu       sync.RWMutex
	tmpl     MarketTemplate
	markets  map[common.Hash]*Market
	byEscrow map[common.Address]common.Hash
	count    int64
}

// NewFactory creates a Factory. A nil template logger falls back to
// slog.Default, and a nil clock to the system clock.
func NewFactory(tmpl MarketTemplate) *Factory {
	if tmpl.Logger == nil {
		tmpl.Logger = slog.Default()
	}
	if tmpl.Clock == nil {
		tmpl.Clock = SystemClock()
	}
	return &Factory{
		tmpl:     tmpl,
		markets:  make(map[common.Hash]*Market),
		byEscrow: make(map[common.Address]common.Hash),
	}
}

// CreateMarket validates params, instantiates an independent market seeded
// from the template, and registers it under its caller-assigned ID.
// Duplicate IDs are a hard error.
func (f *Factory) CreateMarket(ctx context.Context, params domain.MarketParams) (*Market, error) {
	if params.OutcomeCount < 2 {
		return nil, fmt.Errorf("engine: create market: %w", domain.ErrTooFewOutcomes)
	}
	if params.FeeBps > domain.FeeDenominator {
		return nil, fmt.Errorf("engine: create market: %w", domain.ErrInvalidFee)
	}
	if !params.CloseTime.After(f.tmpl.Clock.Now()) {
		return nil, fmt.Errorf("engine: create market: %w", domain.ErrInvalidCloseTime)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.markets[params.MarketID]; exists {
		return nil, fmt.Errorf("engine: create market %s: %w", params.MarketID.Hex(), domain.ErrMarketAlreadyExists)
	}

	escrow := escrowAddress(params.MarketID)
	market := newMarket(params, escrow, f.tmpl)

	f.markets[params.MarketID] = market
	f.byEscrow[escrow] = params.MarketID
	f.count++

	f.tmpl.Logger.InfoContext(ctx, "engine: market created",
		slog.String("market_id", params.MarketID.Hex()),
		slog.String("escrow", escrow.Hex()),
		slog.Int("outcome_count", params.OutcomeCount),
		slog.Int("fee_bps", int(params.FeeBps)),
		slog.Time("close_time", params.CloseTime),
	)
	return market, nil
}

// GetMarket looks up a market by its ID.
func (f *Factory) GetMarket(marketID common.Hash) (*Market, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

// IsMarket reports whether addr is the escrow address of a registered market.
func (f *Factory) IsMarket(addr common.Address) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.byEscrow[addr]
	return ok
}

// MarketCount returns the number of markets ever created. Monotonic:
// cancellation does not deregister a market.
func (f *Factory) MarketCount() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// CancelMarket is the only path to the Cancelled state. The caller must be
// the factory's configured admin.
func (f *Factory) CancelMarket(ctx context.Context, caller common.Address, marketID common.Hash) error {
	if caller != f.tmpl.Admin {
		return fmt.Errorf("engine: cancel market %s by %s: %w", marketID.Hex(), caller.Hex(), domain.ErrUnauthorized)
	}
	m, err := f.GetMarket(marketID)
	if err != nil {
		return err
	}
	return m.cancel(ctx)
}

// Admin returns the configured admin principal.
func (f *Factory) Admin() common.Address { return f.tmpl.Admin }

// Treasury returns the account that receives protocol fees.
func (f *Factory) Treasury() common.Address { return f.tmpl.Treasury }

// Ledger returns the asset ledger shared by all markets.
func (f *Factory) Ledger() domain.AssetLedger { return f.tmpl.Ledger }

// escrowAddress derives a deterministic escrow account for a market from its
// ID. The keccak preimage is domain-separated so escrow addresses can never
// collide with agent wallets.
func escrowAddress(marketID common.Hash) common.Address {
	h := ethcrypto.Keccak256([]byte("parimutuel/escrow/v1"), marketID.Bytes())
	return common.BytesToAddress(h[12:])
}
