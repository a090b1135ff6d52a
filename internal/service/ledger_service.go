package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// LedgerService exposes the asset ledger over the service layer: balance and
// allowance views, plus owner-authorized allowance updates. Minting is not
// offered here; balances enter the system through the genesis table.
type LedgerService struct {
	ledger domain.AssetLedger
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(ledger domain.AssetLedger, audit domain.AuditStore, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		audit:  audit,
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// Approve sets spender's allowance on owner's balance to the given absolute
// amount. The caller must have already authenticated owner; the service does
// not re-verify authorization.
func (s *LedgerService) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := s.ledger.Approve(ctx, owner, spender, amount); err != nil {
		return fmt.Errorf("ledger_service: approve: %w", err)
	}

	if err := s.audit.Log(ctx, domain.EventAllowanceApproved, map[string]any{
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "ledger_service: allowance approved",
		slog.String("owner", owner.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// BalanceOf returns account's spendable balance.
func (s *LedgerService) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := s.ledger.BalanceOf(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: balance: %w", err)
	}
	return balance, nil
}

// Allowance returns the amount spender may move from owner's balance.
func (s *LedgerService) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	allowance, err := s.ledger.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: allowance: %w", err)
	}
	return allowance, nil
}
