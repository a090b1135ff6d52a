package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `offchain_bet_id, market_id, outcome, amount::text,
	payer, receiver, status, fail_reason, placed_at`

// Insert journals one bet attempt, accepted or failed.
func (s *BetStore) Insert(ctx context.Context, bet domain.Bet) error {
	const query = `
		INSERT INTO bets (
			offchain_bet_id, market_id, outcome, amount,
			payer, receiver, status, fail_reason, placed_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		bet.OffchainBetID, bet.MarketID.Hex(), bet.Outcome, numericText(bet.Amount),
		bet.Payer.Hex(), bet.Receiver.Hex(), string(bet.Status), bet.FailReason, bet.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", bet.OffchainBetID, err)
	}
	return nil
}

// ListByMarket returns the bet attempts for one market in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "market_id = $1", marketID.Hex(), opts)
}

// ListByReceiver returns the bet attempts crediting one account.
func (s *BetStore) ListByReceiver(ctx context.Context, receiver common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "receiver = $1", receiver.Hex(), opts)
}

func (s *BetStore) list(ctx context.Context, cond string, arg any, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE ` + cond + ` ORDER BY placed_at ASC`
	args := []any{arg}
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
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		bet      domain.Bet
		marketID string
		amount   string
		payer    string
		receiver string
		status   string
	)
	err := row.Scan(
		&bet.OffchainBetID, &marketID, &bet.Outcome, &amount,
		&payer, &receiver, &status, &bet.FailReason, &bet.PlacedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	bet.MarketID = common.HexToHash(marketID)
	bet.Payer = common.HexToAddress(payer)
	bet.Receiver = common.HexToAddress(receiver)
	bet.Status = domain.BetStatus(status)
	bet.Amount, err = parseNumeric(amount)
	if err != nil {
		return domain.Bet{}, err
	}
	return bet, nil
}
