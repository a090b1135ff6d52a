package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `market_id, escrow, state, outcome_count, fee_bps,
	close_time, dispute_window_secs, metadata_hash, total_pool::text,
	proposed_outcome, final_outcome, created_at, updated_at`

// Insert writes a freshly created market. Duplicate IDs map to
// domain.ErrMarketAlreadyExists.
func (s *MarketStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	const query = `
		INSERT INTO markets (
			market_id, escrow, state, outcome_count, fee_bps,
			close_time, dispute_window_secs, metadata_hash, total_pool,
			proposed_outcome, final_outcome, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9::numeric,
			$10, $11, $12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.MarketID.Hex(), rec.Escrow.Hex(), string(rec.State),
		rec.OutcomeCount, rec.FeeBps,
		rec.CloseTime, int64(rec.DisputeWindow/time.Second), rec.MetadataHash.Hex(),
		numericText(rec.TotalPool),
		rec.ProposedOutcome, rec.FinalOutcome, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: insert market %s: %w", rec.MarketID.Hex(), domain.ErrMarketAlreadyExists)
		}
		return fmt.Errorf("postgres: insert market %s: %w", rec.MarketID.Hex(), err)
	}
	return nil
}

// Update rewrites the mutable columns of a market row.
func (s *MarketStore) Update(ctx context.Context, rec domain.MarketRecord) error {
	const query = `
		UPDATE markets SET
			state            = $2,
			total_pool       = $3::numeric,
			proposed_outcome = $4,
			final_outcome    = $5,
			updated_at       = NOW()
		WHERE market_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		rec.MarketID.Hex(), string(rec.State), numericText(rec.TotalPool),
		rec.ProposedOutcome, rec.FinalOutcome,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", rec.MarketID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", rec.MarketID.Hex(), domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market record by its ID.
func (s *MarketStore) GetByID(ctx context.Context, marketID common.Hash) (domain.MarketRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE market_id = $1`, marketID.Hex())
	rec, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketRecord{}, fmt.Errorf("postgres: get market %s: %w", marketID.Hex(), domain.ErrNotFound)
		}
		return domain.MarketRecord{}, fmt.Errorf("postgres: get market %s: %w", marketID.Hex(), err)
	}
	return rec, nil
}

// List returns market records newest first with pagination and optional
// creation-time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	argIdx := 1
	conds := []string{}

	if opts.Since != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *opts.Until)
		argIdx++
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var records []domain.MarketRecord
	for rows.Next() {
		rec, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return records, nil
}

// Count returns the total number of markets journaled.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func scanMarket(row pgx.Row) (domain.MarketRecord, error) {
	var (
		rec          domain.MarketRecord
		marketID     string
		escrow       string
		state        string
		windowSecs   int64
		metadataHash string
		totalPool    string
	)
	err := row.Scan(
		&marketID, &escrow, &state, &rec.OutcomeCount, &rec.FeeBps,
		&rec.CloseTime, &windowSecs, &metadataHash, &totalPool,
		&rec.ProposedOutcome, &rec.FinalOutcome, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.MarketRecord{}, err
	}

	rec.MarketID = common.HexToHash(marketID)
	rec.Escrow = common.HexToAddress(escrow)
	rec.State = domain.MarketState(state)
	rec.DisputeWindow = time.Duration(windowSecs) * time.Second
	rec.MetadataHash = common.HexToHash(metadataHash)
	rec.TotalPool, err = parseNumeric(totalPool)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	return rec, nil
}
