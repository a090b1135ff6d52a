package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementCols = `market_id, account, receiver, kind, amount::text, settled_at`

// Insert journals a completed claim or refund.
func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			market_id, account, receiver, kind, amount, settled_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6)`

	_, err := s.pool.Exec(ctx, query,
		st.MarketID.Hex(), st.Account.Hex(), st.Receiver.Hex(),
		string(st.Kind), numericText(st.Amount), st.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement for %s: %w", st.Account.Hex(), err)
	}
	return nil
}

// ListByMarket returns a market's settlements in settlement order.
func (s *SettlementStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements WHERE market_id = $1 ORDER BY settled_at ASC`
	args := []any{marketID.Hex()}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return settlements, nil
}

// GetByAccount retrieves one account's settlement on a market.
func (s *SettlementStore) GetByAccount(ctx context.Context, marketID common.Hash, account common.Address) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE market_id = $1 AND account = $2`,
		marketID.Hex(), account.Hex())
	st, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, fmt.Errorf("postgres: get settlement for %s: %w", account.Hex(), domain.ErrNotFound)
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement for %s: %w", account.Hex(), err)
	}
	return st, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st       domain.Settlement
		marketID string
		account  string
		receiver string
		kind     string
		amount   string
	)
	err := row.Scan(&marketID, &account, &receiver, &kind, &amount, &st.SettledAt)
	if err != nil {
		return domain.Settlement{}, err
	}

	st.MarketID = common.HexToHash(marketID)
	st.Account = common.HexToAddress(account)
	st.Receiver = common.HexToAddress(receiver)
	st.Kind = domain.SettlementKind(kind)
	st.Amount, err = parseNumeric(amount)
	if err != nil {
		return domain.Settlement{}, err
	}
	return st, nil
}
