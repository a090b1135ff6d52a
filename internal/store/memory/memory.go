// Package memory provides in-memory implementations of the journal stores.
// They back single-process deployments and tests; durability comes from the
// postgres package.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// MarketStore is a mutex-guarded map keyed by market ID.
type MarketStore struct {
	mu      sync.RWMutex
	records map[common.Hash]domain.MarketRecord
	order   []common.Hash
}

func NewMarketStore() *MarketStore {
	return &MarketStore{records: make(map[common.Hash]domain.MarketRecord)}
}

func (s *MarketStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MarketID]; ok {
		return fmt.Errorf("memory: market %s: %w", rec.MarketID.Hex(), domain.ErrMarketAlreadyExists)
	}
	s.records[rec.MarketID] = rec
	s.order = append(s.order, rec.MarketID)
	return nil
}

func (s *MarketStore) Update(ctx context.Context, rec domain.MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MarketID]; !ok {
		return fmt.Errorf("memory: market %s: %w", rec.MarketID.Hex(), domain.ErrNotFound)
	}
	s.records[rec.MarketID] = rec
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id common.Hash) (domain.MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.MarketRecord{}, fmt.Errorf("memory: market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return rec, nil
}

func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return paginate(out, opts), nil
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// BetStore journals accepted and failed bet attempts in arrival order.
type BetStore struct {
	mu   sync.RWMutex
	bets []domain.Bet
}

func NewBetStore() *BetStore {
	return &BetStore{}
}

func (s *BetStore) Insert(ctx context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, bet)
	return nil
}

func (s *BetStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID {
			out = append(out, b)
		}
	}
	return paginate(out, opts), nil
}

func (s *BetStore) ListByReceiver(ctx context.Context, receiver common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.Receiver == receiver {
			out = append(out, b)
		}
	}
	return paginate(out, opts), nil
}

// ResolutionStore journals oracle requests keyed by request ID.
type ResolutionStore struct {
	mu       sync.RWMutex
	requests map[common.Hash]domain.ResolutionRequest
}

func NewResolutionStore() *ResolutionStore {
	return &ResolutionStore{requests: make(map[common.Hash]domain.ResolutionRequest)}
}

func (s *ResolutionStore) Insert(ctx context.Context, req domain.ResolutionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req
	return nil
}

func (s *ResolutionStore) MarkResolved(ctx context.Context, requestID common.Hash, outcome int, evidenceHash common.Hash, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("memory: request %s: %w", requestID.Hex(), domain.ErrNotFound)
	}
	req.Status = domain.ResolutionResolved
	req.Outcome = outcome
	req.EvidenceHash = evidenceHash
	req.ResolvedAt = &at
	s.requests[requestID] = req
	return nil
}

func (s *ResolutionStore) GetByID(ctx context.Context, requestID common.Hash) (domain.ResolutionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return domain.ResolutionRequest{}, fmt.Errorf("memory: request %s: %w", requestID.Hex(), domain.ErrNotFound)
	}
	return req, nil
}

func (s *ResolutionStore) ListByMarket(ctx context.Context, marketID common.Hash) ([]domain.ResolutionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ResolutionRequest
	for _, req := range s.requests {
		if req.MarketID == marketID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// SettlementStore journals payouts and refunds in settlement order.
type SettlementStore struct {
	mu          sync.RWMutex
	settlements []domain.Settlement
}

func NewSettlementStore() *SettlementStore {
	return &SettlementStore{}
}

func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, st)
	return nil
}

func (s *SettlementStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	for _, st := range s.settlements {
		if st.MarketID == marketID {
			out = append(out, st)
		}
	}
	return paginate(out, opts), nil
}

func (s *SettlementStore) GetByAccount(ctx context.Context, marketID common.Hash, account common.Address) (domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.settlements {
		if st.MarketID == marketID && st.Account == account {
			return st, nil
		}
	}
	return domain.Settlement{}, fmt.Errorf("memory: settlement for %s: %w", account.Hex(), domain.ErrNotFound)
}

// AuditStore records admin and lifecycle actions in order.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.MarketStore     = (*MarketStore)(nil)
	_ domain.BetStore        = (*BetStore)(nil)
	_ domain.ResolutionStore = (*ResolutionStore)(nil)
	_ domain.SettlementStore = (*SettlementStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
