// Package engine implements the parimutuel market lifecycle and settlement
// core: the per-market state machine and pool ledger, the factory/registry
// that instantiates markets from a shared template, and the two-phase oracle
// adapter that proposes outcomes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// Market is one prediction question. It owns the outcome pool ledger and
// enforces the state machine:
//
//	Created -> Open -> Closed -> Proposed -> Final
//	              \________\________\-> Cancelled (admin only)
//
// A Proposed market falls back to Closed when disputed inside the window.
// All mutations are serialized by the market's own mutex; the asset ledger
// is only touched after guards pass, and the claimed flag is always set
// before the corresponding transfer.
type Market struct {
	mu sync.Mutex

	id            common.Hash
	escrow        common.Address
	outcomeCount  int
	feeBps        uint32
	closeTime     time.Time
	disputeWindow time.Duration
	metadataHash  common.Hash
	createdAt     time.Time

	state           domain.MarketState
	totalPool       *big.Int
	outcomePools    []*big.Int
	positions       map[common.Address][]*big.Int
	claimed         map[common.Address]bool
	proposedOutcome int
	disputeDeadline time.Time
	finalOutcome    int

	ledger   domain.AssetLedger
	treasury common.Address
	clock    Clock
	logger   *slog.Logger
}

// newMarket is called by the factory only. Pools start zeroed and the market
// opens immediately.
func newMarket(params domain.MarketParams, escrow common.Address, tmpl MarketTemplate) *Market {
	pools := make([]*big.Int, params.OutcomeCount)
	for i := range pools {
		pools[i] = new(big.Int)
	}
	return &Market{
		id:              params.MarketID,
		escrow:          escrow,
		outcomeCount:    params.OutcomeCount,
		feeBps:          params.FeeBps,
		closeTime:       params.CloseTime,
		disputeWindow:   params.DisputeWindow,
		metadataHash:    params.MetadataHash,
		createdAt:       tmpl.Clock.Now(),
		state:           domain.MarketStateOpen,
		totalPool:       new(big.Int),
		outcomePools:    pools,
		positions:       make(map[common.Address][]*big.Int),
		claimed:         make(map[common.Address]bool),
		proposedOutcome: domain.NoOutcome,
		finalOutcome:    domain.NoOutcome,
		ledger:          tmpl.Ledger,
		treasury:        tmpl.Treasury,
		clock:           tmpl.Clock,
		logger:          tmpl.Logger.With(slog.String("market_id", params.MarketID.Hex())),
	}
}

// ID returns the caller-assigned 32-byte market identifier.
func (m *Market) ID() common.Hash { return m.id }

// Escrow returns the address holding the market's pooled funds.
func (m *Market) Escrow() common.Address { return m.escrow }

// PlaceBet pulls amount of the betting asset from payer into the market
// escrow and credits receiver's position on the given outcome. Receiver is
// not necessarily the payer: a relayer pays while the agent's wallet holds
// the position. offchainBetID is an opaque correlation tag.
func (m *Market) PlaceBet(ctx context.Context, payer, receiver common.Address, outcome int, amount *big.Int, offchainBetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateOpen {
		return fmt.Errorf("engine: place bet on %s market: %w", m.state, domain.ErrWrongState)
	}
	if !m.clock.Now().Before(m.closeTime) {
		return fmt.Errorf("engine: place bet: %w", domain.ErrBettingClosed)
	}
	if outcome < 0 || outcome >= m.outcomeCount {
		return fmt.Errorf("engine: place bet on outcome %d of %d: %w", outcome, m.outcomeCount, domain.ErrInvalidOutcome)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: place bet: %w", domain.ErrZeroAmount)
	}

	// Pull funds first: a failed pull must leave the pools untouched.
	if err := m.ledger.TransferFrom(ctx, m.escrow, payer, m.escrow, amount); err != nil {
		return fmt.Errorf("engine: place bet: pull stake: %w", err)
	}

	m.totalPool.Add(m.totalPool, amount)
	m.outcomePools[outcome].Add(m.outcomePools[outcome], amount)

	pos, ok := m.positions[receiver]
	if !ok {
		pos = make([]*big.Int, m.outcomeCount)
		for i := range pos {
			pos[i] = new(big.Int)
		}
		m.positions[receiver] = pos
	}
	pos[outcome].Add(pos[outcome], amount)

	m.logger.InfoContext(ctx, "engine: bet placed",
		slog.Int("outcome", outcome),
		slog.String("amount", amount.String()),
		slog.String("receiver", receiver.Hex()),
		slog.String("offchain_bet_id", offchainBetID),
	)
	return nil
}

// Close transitions Open -> Closed once the close time has been reached.
// Permissionless: any caller may close an expired market.
func (m *Market) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateOpen {
		return fmt.Errorf("engine: close %s market: %w", m.state, domain.ErrWrongState)
	}
	if m.clock.Now().Before(m.closeTime) {
		return fmt.Errorf("engine: close: %w", domain.ErrCloseTooEarly)
	}

	m.state = domain.MarketStateClosed
	m.logger.InfoContext(ctx, "engine: market closed")
	return nil
}

// propose moves Closed -> Proposed with the given outcome and arms the
// dispute window. Only the oracle adapter reaches this entry point.
func (m *Market) propose(ctx context.Context, outcome int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateClosed {
		return fmt.Errorf("engine: propose on %s market: %w", m.state, domain.ErrWrongState)
	}
	if outcome < 0 || outcome >= m.outcomeCount {
		return fmt.Errorf("engine: propose outcome %d of %d: %w", outcome, m.outcomeCount, domain.ErrInvalidOutcome)
	}

	m.state = domain.MarketStateProposed
	m.proposedOutcome = outcome
	m.disputeDeadline = m.clock.Now().Add(m.disputeWindow)

	m.logger.InfoContext(ctx, "engine: outcome proposed",
		slog.Int("outcome", outcome),
		slog.Time("dispute_deadline", m.disputeDeadline),
	)
	return nil
}

// Dispute challenges a proposed outcome inside the dispute window, clearing
// it and returning the market to Closed. A fresh resolution is required
// before the market can ever finalize.
func (m *Market) Dispute(ctx context.Context, reasonHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateProposed {
		return fmt.Errorf("engine: dispute %s market: %w", m.state, domain.ErrWrongState)
	}
	if !m.clock.Now().Before(m.disputeDeadline) {
		return fmt.Errorf("engine: dispute: %w", domain.ErrDisputeWindowClosed)
	}

	disputed := m.proposedOutcome
	m.state = domain.MarketStateClosed
	m.proposedOutcome = domain.NoOutcome
	m.disputeDeadline = time.Time{}

	m.logger.InfoContext(ctx, "engine: outcome disputed",
		slog.Int("outcome", disputed),
		slog.String("reason_hash", reasonHash.Hex()),
	)
	return nil
}

// Finalize moves Proposed -> Final once the dispute window has elapsed
// unchallenged, extracting the fee to the treasury exactly once.
// Permissionless, like Close.
func (m *Market) Finalize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateProposed {
		return fmt.Errorf("engine: finalize %s market: %w", m.state, domain.ErrWrongState)
	}
	if m.clock.Now().Before(m.disputeDeadline) {
		return fmt.Errorf("engine: finalize: %w", domain.ErrDisputeWindowOpen)
	}

	fee := m.feeLocked()

	m.state = domain.MarketStateFinal
	m.finalOutcome = m.proposedOutcome

	// Escrow holds the full pool, so the fee transfer cannot come up short.
	if fee.Sign() > 0 {
		if err := m.ledger.Transfer(ctx, m.escrow, m.treasury, fee); err != nil {
			return fmt.Errorf("engine: finalize: extract fee: %w", err)
		}
	}

	m.logger.InfoContext(ctx, "engine: market finalized",
		slog.Int("final_outcome", m.finalOutcome),
		slog.String("fee", fee.String()),
	)
	return nil
}

// cancel routes every participant to the refund path. Reached only through
// the factory's admin-gated CancelMarket.
func (m *Market) cancel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.MarketStateOpen, domain.MarketStateClosed, domain.MarketStateProposed:
	default:
		return fmt.Errorf("engine: cancel %s market: %w", m.state, domain.ErrWrongState)
	}

	m.state = domain.MarketStateCancelled
	m.proposedOutcome = domain.NoOutcome
	m.logger.InfoContext(ctx, "engine: market cancelled")
	return nil
}

// Claim pays out account's winning share to receiver and marks the account
// settled. A zero payout (no winning position) still marks the account, and
// a second claim is a hard error.
func (m *Market) Claim(ctx context.Context, account, receiver common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateFinal {
		return nil, fmt.Errorf("engine: claim on %s market: %w", m.state, domain.ErrWrongState)
	}
	if m.claimed[account] {
		return nil, fmt.Errorf("engine: claim for %s: %w", account.Hex(), domain.ErrAlreadyClaimed)
	}

	payout := m.payoutLocked(account)

	// Mark settled before moving value.
	m.claimed[account] = true

	if payout.Sign() > 0 {
		if err := m.ledger.Transfer(ctx, m.escrow, receiver, payout); err != nil {
			return nil, fmt.Errorf("engine: claim: pay out: %w", err)
		}
	}

	m.logger.InfoContext(ctx, "engine: payout claimed",
		slog.String("account", account.Hex()),
		slog.String("receiver", receiver.Hex()),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

// ClaimRefund returns account's exact original stake across all outcomes.
// Only valid on a cancelled market, gated by the same claimed flag as Claim
// so an account can never take both a payout and a refund.
func (m *Market) ClaimRefund(ctx context.Context, account, receiver common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateCancelled {
		return nil, fmt.Errorf("engine: refund on %s market: %w", m.state, domain.ErrWrongState)
	}
	if m.claimed[account] {
		return nil, fmt.Errorf("engine: refund for %s: %w", account.Hex(), domain.ErrAlreadyClaimed)
	}

	refund := new(big.Int)
	if pos, ok := m.positions[account]; ok {
		for _, stake := range pos {
			refund.Add(refund, stake)
		}
	}

	m.claimed[account] = true

	if refund.Sign() > 0 {
		if err := m.ledger.Transfer(ctx, m.escrow, receiver, refund); err != nil {
			return nil, fmt.Errorf("engine: refund: pay back: %w", err)
		}
	}

	m.logger.InfoContext(ctx, "engine: refund claimed",
		slog.String("account", account.Hex()),
		slog.String("refund", refund.String()),
	)
	return refund, nil
}

// State returns the current lifecycle state.
func (m *Market) State() domain.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TotalPool returns the sum of all accepted bets.
func (m *Market) TotalPool() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.totalPool)
}

// OutcomePool returns the pool staked on a single outcome.
func (m *Market) OutcomePool(outcome int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome < 0 || outcome >= m.outcomeCount {
		return nil, fmt.Errorf("engine: outcome pool %d of %d: %w", outcome, m.outcomeCount, domain.ErrInvalidOutcome)
	}
	return new(big.Int).Set(m.outcomePools[outcome]), nil
}

// Position returns account's cumulative stake per outcome.
func (m *Market) Position(account common.Address) domain.PositionView {
	m.mu.Lock()
	defer m.mu.Unlock()

	stakes := make([]*big.Int, m.outcomeCount)
	pos := m.positions[account]
	for i := range stakes {
		if pos != nil {
			stakes[i] = new(big.Int).Set(pos[i])
		} else {
			stakes[i] = new(big.Int)
		}
	}
	return domain.PositionView{Account: account, Stakes: stakes}
}

// Claimable computes the payout Claim would transfer for account. It returns
// zero for any state other than Final and for accounts that already claimed.
func (m *Market) Claimable(account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.MarketStateFinal || m.claimed[account] {
		return new(big.Int)
	}
	return m.payoutLocked(account)
}

// FinalOutcome returns the winning outcome index, or domain.NoOutcome if the
// market has not finalized.
func (m *Market) FinalOutcome() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalOutcome
}

// CloseTime returns the immutable betting deadline.
func (m *Market) CloseTime() time.Time { return m.closeTime }

// Snapshot returns a copy of the market's public state.
func (m *Market) Snapshot() domain.MarketSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	pools := make([]*big.Int, m.outcomeCount)
	for i, p := range m.outcomePools {
		pools[i] = new(big.Int).Set(p)
	}
	return domain.MarketSnapshot{
		MarketID:        m.id,
		Escrow:          m.escrow,
		State:           m.state,
		OutcomeCount:    m.outcomeCount,
		FeeBps:          m.feeBps,
		CloseTime:       m.closeTime,
		DisputeWindow:   m.disputeWindow,
		MetadataHash:    m.metadataHash,
		TotalPool:       new(big.Int).Set(m.totalPool),
		OutcomePools:    pools,
		ProposedOutcome: m.proposedOutcome,
		DisputeDeadline: m.disputeDeadline,
		FinalOutcome:    m.finalOutcome,
		CreatedAt:       m.createdAt,
	}
}

// Record builds the durable journal row for the market's current state.
func (m *Market) Record() domain.MarketRecord {
	snap := m.Snapshot()
	return domain.MarketRecord{
		MarketID:        snap.MarketID,
		Escrow:          snap.Escrow,
		State:           snap.State,
		OutcomeCount:    snap.OutcomeCount,
		FeeBps:          snap.FeeBps,
		CloseTime:       snap.CloseTime,
		DisputeWindow:   snap.DisputeWindow,
		MetadataHash:    snap.MetadataHash,
		TotalPool:       snap.TotalPool,
		ProposedOutcome: snap.ProposedOutcome,
		FinalOutcome:    snap.FinalOutcome,
		CreatedAt:       snap.CreatedAt,
	}
}

// feeLocked computes totalPool * feeBps / 10000 with truncating division, so
// the extracted fee never exceeds the nominal rate.
func (m *Market) feeLocked() *big.Int {
	fee := new(big.Int).Mul(m.totalPool, big.NewInt(int64(m.feeBps)))
	return fee.Div(fee, big.NewInt(domain.FeeDenominator))
}

// payoutLocked computes position[account][finalOutcome] * distributable /
// outcomePool[finalOutcome], truncating. Each account rounds down
// independently; the residual dust stays in escrow and is never swept.
func (m *Market) payoutLocked(account common.Address) *big.Int {
	pos, ok := m.positions[account]
	if !ok {
		return new(big.Int)
	}
	stake := pos[m.finalOutcome]
	if stake.Sign() == 0 {
		return new(big.Int)
	}

	winnerPool := m.outcomePools[m.finalOutcome]
	if winnerPool.Sign() == 0 {
		return new(big.Int)
	}

	distributable := new(big.Int).Sub(m.totalPool, m.feeLocked())
	payout := new(big.Int).Mul(stake, distributable)
	return payout.Div(payout, winnerPool)
}
