package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore is the durable journal of market records. The engine writes
// through on every state transition; the store is the engine's own record,
// not a read replica of some other source of truth.
type MarketStore interface {
	Insert(ctx context.Context, rec MarketRecord) error
	Update(ctx context.Context, rec MarketRecord) error
	GetByID(ctx context.Context, marketID common.Hash) (MarketRecord, error)
	List(ctx context.Context, opts ListOpts) ([]MarketRecord, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore journals bet attempts.
type BetStore interface {
	Insert(ctx context.Context, bet Bet) error
	ListByMarket(ctx context.Context, marketID common.Hash, opts ListOpts) ([]Bet, error)
	ListByReceiver(ctx context.Context, receiver common.Address, opts ListOpts) ([]Bet, error)
}

// ResolutionStore journals oracle requests and their consumption.
type ResolutionStore interface {
	Insert(ctx context.Context, req ResolutionRequest) error
	MarkResolved(ctx context.Context, requestID common.Hash, outcome int, evidenceHash common.Hash, at time.Time) error
	GetByID(ctx context.Context, requestID common.Hash) (ResolutionRequest, error)
	ListByMarket(ctx context.Context, marketID common.Hash) ([]ResolutionRequest, error)
}

// SettlementStore journals completed claims and refunds.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	ListByMarket(ctx context.Context, marketID common.Hash, opts ListOpts) ([]Settlement, error)
	GetByAccount(ctx context.Context, marketID common.Hash, account common.Address) (Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
