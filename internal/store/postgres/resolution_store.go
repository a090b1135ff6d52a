package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const resolutionCols = `request_id, market_id, data, status, outcome,
	evidence_hash, requested_at, resolved_at`

// Insert journals a pending oracle request.
func (s *ResolutionStore) Insert(ctx context.Context, req domain.ResolutionRequest) error {
	const query = `
		INSERT INTO resolutions (
			request_id, market_id, data, status, outcome,
			evidence_hash, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		req.RequestID.Hex(), req.MarketID.Hex(), req.Data, string(req.Status),
		req.Outcome, req.EvidenceHash.Hex(), req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert resolution %s: %w", req.RequestID.Hex(), err)
	}
	return nil
}

// MarkResolved records the consumption of a pending request.
func (s *ResolutionStore) MarkResolved(ctx context.Context, requestID common.Hash, outcome int, evidenceHash common.Hash, at time.Time) error {
	const query = `
		UPDATE resolutions SET
			status        = $2,
			outcome       = $3,
			evidence_hash = $4,
			resolved_at   = $5
		WHERE request_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		requestID.Hex(), string(domain.ResolutionResolved), outcome, evidenceHash.Hex(), at,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark resolution %s: %w", requestID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark resolution %s: %w", requestID.Hex(), domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a request by its derived ID.
func (s *ResolutionStore) GetByID(ctx context.Context, requestID common.Hash) (domain.ResolutionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resolutionCols+` FROM resolutions WHERE request_id = $1`, requestID.Hex())
	req, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution %s: %w", requestID.Hex(), domain.ErrNotFound)
		}
		return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution %s: %w", requestID.Hex(), err)
	}
	return req, nil
}

// ListByMarket returns all requests opened against one market.
func (s *ResolutionStore) ListByMarket(ctx context.Context, marketID common.Hash) ([]domain.ResolutionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionCols+` FROM resolutions WHERE market_id = $1 ORDER BY requested_at ASC`,
		marketID.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	var reqs []domain.ResolutionRequest
	for rows.Next() {
		req, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolutions rows: %w", err)
	}
	return reqs, nil
}

func scanResolution(row pgx.Row) (domain.ResolutionRequest, error) {
	var (
		req          domain.ResolutionRequest
		requestID    string
		marketID     string
		status       string
		evidenceHash string
	)
	err := row.Scan(
		&requestID, &marketID, &req.Data, &status, &req.Outcome,
		&evidenceHash, &req.RequestedAt, &req.ResolvedAt,
	)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}

	req.RequestID = common.HexToHash(requestID)
	req.MarketID = common.HexToHash(marketID)
	req.Status = domain.ResolutionStatus(status)
	req.EvidenceHash = common.HexToHash(evidenceHash)
	return req, nil
}
