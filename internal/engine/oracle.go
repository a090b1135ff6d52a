package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// OracleAdapter is the manual two-phase resolution path. Anyone may request
// a resolution (the request is the auditable evidence trail); only an
// allowlisted operator may answer. It is the sole entry into a market's
// propose transition, so the market only ever sees "some authorized resolver
// proposed outcome X" and the adapter can be swapped for a decentralized
// oracle without touching the market.
type OracleAdapter struct {
	mu        sync.Mutex
	factory   *Factory
	operators map[common.Address]bool
	salt      common.Hash
	nonce     uint64
	requests  map[common.Hash]*domain.ResolutionRequest
	clock     Clock
	logger    *slog.Logger
}

// NewOracleAdapter creates an adapter bound to the factory's markets. salt
// feeds request-ID derivation so IDs are unforgeable across adapter
// instances; operators is the resolver allowlist.
func NewOracleAdapter(factory *Factory, operators []common.Address, salt common.Hash, logger *slog.Logger) *OracleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	ops := make(map[common.Address]bool, len(operators))
	for _, op := range operators {
		ops[op] = true
	}
	return &OracleAdapter{
		factory:   factory,
		operators: ops,
		salt:      salt,
		requests:  make(map[common.Hash]*domain.ResolutionRequest),
		clock:     factory.tmpl.Clock,
		logger:    logger.With(slog.String("component", "oracle")),
	}
}

// RequestResolution opens a pending request for the given market and returns
// it. data is opaque passthrough for the resolver (instructions, source
// URLs). The derived request ID is unique per request and never reused.
func (o *OracleAdapter) RequestResolution(ctx context.Context, marketID common.Hash, data []byte) (domain.ResolutionRequest, error) {
	if _, err := o.factory.GetMarket(marketID); err != nil {
		return domain.ResolutionRequest{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.nonce++
	requestID := o.deriveRequestID(marketID, o.nonce)

	req := &domain.ResolutionRequest{
		RequestID:   requestID,
		MarketID:    marketID,
		Data:        append([]byte(nil), data...),
		Status:      domain.ResolutionPending,
		Outcome:     domain.NoOutcome,
		RequestedAt: o.clock.Now(),
	}
	o.requests[requestID] = req

	o.logger.InfoContext(ctx, "oracle: resolution requested",
		slog.String("market_id", marketID.Hex()),
		slog.String("request_id", requestID.Hex()),
		slog.Int("data_len", len(data)),
	)
	return *req, nil
}

// Resolve consumes a pending request exactly once, proposing outcome to the
// target market and recording evidenceHash as the pointer to off-chain
// justification. Resolving an unknown or already-consumed request fails.
func (o *OracleAdapter) Resolve(ctx context.Context, operator common.Address, requestID common.Hash, outcome int, evidenceHash common.Hash) (domain.ResolutionRequest, error) {
	if !o.operators[operator] {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle: resolve by %s: %w", operator.Hex(), domain.ErrUnauthorized)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[requestID]
	if !ok {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle: resolve %s: %w", requestID.Hex(), domain.ErrUnknownRequest)
	}
	if req.Status != domain.ResolutionPending {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle: resolve %s: %w", requestID.Hex(), domain.ErrRequestConsumed)
	}

	market, err := o.factory.GetMarket(req.MarketID)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}

	// The market's own guards decide whether the proposal lands; the
	// request stays pending when they reject it, so the operator can retry
	// after the market reaches Closed.
	if err := market.propose(ctx, outcome); err != nil {
		return domain.ResolutionRequest{}, err
	}

	now := o.clock.Now()
	req.Status = domain.ResolutionResolved
	req.Outcome = outcome
	req.EvidenceHash = evidenceHash
	req.ResolvedAt = &now

	o.logger.InfoContext(ctx, "oracle: request resolved",
		slog.String("request_id", requestID.Hex()),
		slog.Int("outcome", outcome),
		slog.String("evidence_hash", evidenceHash.Hex()),
		slog.String("operator", operator.Hex()),
	)
	return *req, nil
}

// GetRequest returns a copy of the request with the given ID.
func (o *OracleAdapter) GetRequest(requestID common.Hash) (domain.ResolutionRequest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestID]
	if !ok {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle: request %s: %w", requestID.Hex(), domain.ErrUnknownRequest)
	}
	return *req, nil
}

// IsOperator reports whether addr may resolve requests.
func (o *OracleAdapter) IsOperator(addr common.Address) bool {
	return o.operators[addr]
}

// deriveRequestID hashes the market ID, a monotonically increasing nonce,
// and the adapter salt.
func (o *OracleAdapter) deriveRequestID(marketID common.Hash, nonce uint64) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return common.BytesToHash(ethcrypto.Keccak256(marketID.Bytes(), n[:], o.salt.Bytes()))
}
