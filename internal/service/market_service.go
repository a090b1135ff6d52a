// Package service coordinates the market engine with the durable journal,
// the event bus, and the audit log. The engine is the source of truth;
// journal and bus writes are follow-ups that must not fail a completed
// transition.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/engine"
)

// MarketService drives the market lifecycle: creation, betting, keeper
// transitions, settlement, and admin cancellation.
type MarketService struct {
	factory     *engine.Factory
	markets     domain.MarketStore
	bets        domain.BetStore
	settlements domain.SettlementStore
	audit       domain.AuditStore
	bus         domain.SignalBus
	clock       engine.Clock
	logger      *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	factory *engine.Factory,
	markets domain.MarketStore,
	bets domain.BetStore,
	settlements domain.SettlementStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	clock engine.Clock,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		factory:     factory,
		markets:     markets,
		bets:        bets,
		settlements: settlements,
		audit:       audit,
		bus:         bus,
		clock:       clock,
		logger:      logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarket creates and registers a new market.
func (s *MarketService) CreateMarket(ctx context.Context, params domain.MarketParams) (domain.MarketSnapshot, error) {
	m, err := s.factory.CreateMarket(ctx, params)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.markets.Insert(ctx, m.Record()); err != nil {
		s.warnJournal(ctx, "insert market", params.MarketID, err)
	}
	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketCreated, params.MarketID, map[string]any{
		"escrow":        m.Escrow().Hex(),
		"outcome_count": params.OutcomeCount,
		"fee_bps":       params.FeeBps,
		"close_time":    params.CloseTime,
	})
	s.auditLog(ctx, domain.EventMarketCreated, map[string]any{"market_id": params.MarketID.Hex()})

	return m.Snapshot(), nil
}

// PlaceBet places a bet on behalf of payer, crediting receiver. Failed
// attempts are journaled with their failure reason so the caller can retry
// explicitly.
func (s *MarketService) PlaceBet(ctx context.Context, marketID common.Hash, payer, receiver common.Address, outcome int, amount *big.Int, offchainBetID string) error {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("market_service: place bet: %w", err)
	}

	bet := domain.Bet{
		OffchainBetID: offchainBetID,
		MarketID:      marketID,
		Outcome:       outcome,
		Amount:        amount,
		Payer:         payer,
		Receiver:      receiver,
		Status:        domain.BetStatusAccepted,
		PlacedAt:      s.clock.Now(),
	}

	if err := m.PlaceBet(ctx, payer, receiver, outcome, amount, offchainBetID); err != nil {
		bet.Status = domain.BetStatusFailed
		bet.FailReason = err.Error()
		if jErr := s.bets.Insert(ctx, bet); jErr != nil {
			s.warnJournal(ctx, "insert failed bet", marketID, jErr)
		}
		return fmt.Errorf("market_service: place bet: %w", err)
	}

	if err := s.bets.Insert(ctx, bet); err != nil {
		s.warnJournal(ctx, "insert bet", marketID, err)
	}
	s.updateRecord(ctx, m)
	s.publish(ctx, domain.ChannelBets, domain.EventBetPlaced, marketID, map[string]any{
		"outcome":         outcome,
		"amount":          amount.String(),
		"receiver":        receiver.Hex(),
		"offchain_bet_id": offchainBetID,
	})
	return nil
}

// Close transitions an expired market to Closed. Permissionless.
func (s *MarketService) Close(ctx context.Context, marketID common.Hash) error {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("market_service: close: %w", err)
	}
	if err := m.Close(ctx); err != nil {
		return fmt.Errorf("market_service: close: %w", err)
	}

	s.updateRecord(ctx, m)
	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketClosed, marketID, nil)
	return nil
}

// Finalize settles a proposed market whose dispute window has elapsed.
// Permissionless.
func (s *MarketService) Finalize(ctx context.Context, marketID common.Hash) error {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("market_service: finalize: %w", err)
	}
	if err := m.Finalize(ctx); err != nil {
		return fmt.Errorf("market_service: finalize: %w", err)
	}

	s.updateRecord(ctx, m)
	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketFinalized, marketID, map[string]any{
		"final_outcome": m.FinalOutcome(),
	})
	s.auditLog(ctx, domain.EventMarketFinalized, map[string]any{
		"market_id":     marketID.Hex(),
		"final_outcome": m.FinalOutcome(),
	})
	return nil
}

// Dispute challenges a proposed outcome inside the dispute window.
func (s *MarketService) Dispute(ctx context.Context, marketID common.Hash, reasonHash common.Hash) error {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("market_service: dispute: %w", err)
	}
	if err := m.Dispute(ctx, reasonHash); err != nil {
		return fmt.Errorf("market_service: dispute: %w", err)
	}

	s.updateRecord(ctx, m)
	s.publish(ctx, domain.ChannelMarkets, domain.EventOutcomeDisputed, marketID, map[string]any{
		"reason_hash": reasonHash.Hex(),
	})
	s.auditLog(ctx, domain.EventOutcomeDisputed, map[string]any{
		"market_id":   marketID.Hex(),
		"reason_hash": reasonHash.Hex(),
	})
	return nil
}

// Cancel invokes the admin-only cancellation transition.
func (s *MarketService) Cancel(ctx context.Context, caller common.Address, marketID common.Hash) error {
	if err := s.factory.CancelMarket(ctx, caller, marketID); err != nil {
		return fmt.Errorf("market_service: cancel: %w", err)
	}

	if m, err := s.factory.GetMarket(marketID); err == nil {
		s.updateRecord(ctx, m)
	}
	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketCancelled, marketID, nil)
	s.auditLog(ctx, domain.EventMarketCancelled, map[string]any{
		"market_id": marketID.Hex(),
		"caller":    caller.Hex(),
	})
	return nil
}

// Claim pays out account's winning share to receiver.
func (s *MarketService) Claim(ctx context.Context, marketID common.Hash, account, receiver common.Address) (*big.Int, error) {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: claim: %w", err)
	}
	payout, err := m.Claim(ctx, account, receiver)
	if err != nil {
		return nil, fmt.Errorf("market_service: claim: %w", err)
	}

	s.journalSettlement(ctx, domain.Settlement{
		MarketID:  marketID,
		Account:   account,
		Receiver:  receiver,
		Kind:      domain.SettlementPayout,
		Amount:    payout,
		SettledAt: s.clock.Now(),
	})
	s.publish(ctx, domain.ChannelSettlements, domain.EventPayoutClaimed, marketID, map[string]any{
		"account": account.Hex(),
		"payout":  payout.String(),
	})
	return payout, nil
}

// ClaimRefund returns account's full stake on a cancelled market.
func (s *MarketService) ClaimRefund(ctx context.Context, marketID common.Hash, account, receiver common.Address) (*big.Int, error) {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: refund: %w", err)
	}
	refund, err := m.ClaimRefund(ctx, account, receiver)
	if err != nil {
		return nil, fmt.Errorf("market_service: refund: %w", err)
	}

	s.journalSettlement(ctx, domain.Settlement{
		MarketID:  marketID,
		Account:   account,
		Receiver:  receiver,
		Kind:      domain.SettlementRefund,
		Amount:    refund,
		SettledAt: s.clock.Now(),
	})
	s.publish(ctx, domain.ChannelSettlements, domain.EventRefundClaimed, marketID, map[string]any{
		"account": account.Hex(),
		"refund":  refund.String(),
	})
	return refund, nil
}

// GetSnapshot returns the live state of a market.
func (s *MarketService) GetSnapshot(ctx context.Context, marketID common.Hash) (domain.MarketSnapshot, error) {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: snapshot: %w", err)
	}
	return m.Snapshot(), nil
}

// GetPosition returns an account's stake per outcome plus its claimable
// payout.
func (s *MarketService) GetPosition(ctx context.Context, marketID common.Hash, account common.Address) (domain.PositionView, *big.Int, error) {
	m, err := s.factory.GetMarket(marketID)
	if err != nil {
		return domain.PositionView{}, nil, fmt.Errorf("market_service: position: %w", err)
	}
	return m.Position(account), m.Claimable(account), nil
}

// List returns journaled market records with pagination.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	recs, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return recs, nil
}

// ListBets returns the journaled bet attempts for one market.
func (s *MarketService) ListBets(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.bets.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets: %w", err)
	}
	return bets, nil
}

// ListBetsByAccount returns the journaled bet attempts crediting one account,
// across all markets.
func (s *MarketService) ListBetsByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.bets.ListByReceiver(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets by account: %w", err)
	}
	return bets, nil
}

// GetSettlement returns one account's journaled settlement on a market.
func (s *MarketService) GetSettlement(ctx context.Context, marketID common.Hash, account common.Address) (domain.Settlement, error) {
	st, err := s.settlements.GetByAccount(ctx, marketID, account)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("market_service: get settlement: %w", err)
	}
	return st, nil
}

// Count returns the number of markets ever created.
func (s *MarketService) Count(ctx context.Context) int64 {
	return s.factory.MarketCount()
}

// IsMarket reports whether addr is a registered market escrow.
func (s *MarketService) IsMarket(addr common.Address) bool {
	return s.factory.IsMarket(addr)
}

// TreasuryBalance reports the treasury account and its accumulated fee
// balance on the asset ledger.
func (s *MarketService) TreasuryBalance(ctx context.Context) (common.Address, *big.Int, error) {
	treasury := s.factory.Treasury()
	balance, err := s.factory.Ledger().BalanceOf(ctx, treasury)
	if err != nil {
		return treasury, nil, fmt.Errorf("market_service: treasury balance: %w", err)
	}
	return treasury, balance, nil
}

func (s *MarketService) updateRecord(ctx context.Context, m *engine.Market) {
	if err := s.markets.Update(ctx, m.Record()); err != nil {
		s.warnJournal(ctx, "update market", m.ID(), err)
	}
}

func (s *MarketService) journalSettlement(ctx context.Context, st domain.Settlement) {
	if err := s.settlements.Insert(ctx, st); err != nil {
		s.warnJournal(ctx, "insert settlement", st.MarketID, err)
	}
}

func (s *MarketService) publish(ctx context.Context, channel, eventType string, marketID common.Hash, data any) {
	publishEvent(ctx, s.bus, s.logger, s.clock.Now(), channel, eventType, marketID, data)
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) warnJournal(ctx context.Context, op string, marketID common.Hash, err error) {
	s.logger.WarnContext(ctx, "market_service: journal write failed",
		slog.String("op", op),
		slog.String("market_id", marketID.Hex()),
		slog.String("error", err.Error()),
	)
}
