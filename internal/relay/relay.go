// Package relay accepts signed bet intents from agent wallets and executes
// them against the market engine on the agents' behalf. The relayer fronts
// the escrow pull so agents only ever grant allowance to a single address.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/engine"
	"github.com/agoramarkets/parimutuel/internal/service"
)

// lockTTL bounds how long a crashed relay instance can hold an agent lock.
const lockTTL = 30 * time.Second

// Relayer verifies agent-signed bet intents and places the bets, crediting
// the agent as receiver. Concurrent intents from the same agent are
// serialized through the lock manager so custody pulls never interleave.
type Relayer struct {
	signer  *crypto.Signer
	ledger  domain.AssetLedger
	factory *engine.Factory
	markets *service.MarketService
	locks   domain.LockManager
	logger  *slog.Logger
}

// NewRelayer creates a Relayer operating as signer's address.
func NewRelayer(
	signer *crypto.Signer,
	ledger domain.AssetLedger,
	factory *engine.Factory,
	markets *service.MarketService,
	locks domain.LockManager,
	logger *slog.Logger,
) *Relayer {
	return &Relayer{
		signer:  signer,
		ledger:  ledger,
		factory: factory,
		markets: markets,
		locks:   locks,
		logger:  logger.With(slog.String("component", "relay")),
	}
}

// Address returns the relayer's own account address.
func (r *Relayer) Address() common.Address {
	return r.signer.Address()
}

// PlaceRelayedBet executes a signed intent. It verifies the signature,
// checks the agent's balance and allowance up front, pulls the stake into
// relay custody, and places the bet with the agent as receiver. A bet that
// the market rejects is unwound back to the agent and never retried.
func (r *Relayer) PlaceRelayedBet(ctx context.Context, intent crypto.BetIntent, signature string) (domain.Bet, error) {
	if intent.Relayer != r.signer.Address() {
		return domain.Bet{}, fmt.Errorf("relay: intent addressed to %s: %w", intent.Relayer.Hex(), domain.ErrUnauthorized)
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return domain.Bet{}, fmt.Errorf("relay: %w", domain.ErrZeroAmount)
	}

	recovered, err := crypto.RecoverIntentSigner(intent, signature)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("relay: verify intent: %w", err)
	}
	if recovered != intent.Agent {
		return domain.Bet{}, fmt.Errorf("relay: intent signed by %s, not agent %s: %w",
			recovered.Hex(), intent.Agent.Hex(), domain.ErrUnauthorized)
	}

	betID := intent.BetID
	if betID == "" {
		betID = uuid.NewString()
	}

	unlock, err := r.locks.Acquire(ctx, "lock:relay:agent:"+intent.Agent.Hex(), lockTTL)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("relay: acquire agent lock: %w", err)
	}
	defer unlock()

	m, err := r.factory.GetMarket(intent.MarketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("relay: %w", err)
	}

	if err := r.preflight(ctx, intent); err != nil {
		return domain.Bet{}, err
	}

	relayer := r.signer.Address()
	if err := r.ledger.TransferFrom(ctx, relayer, intent.Agent, relayer, intent.Amount); err != nil {
		return domain.Bet{}, fmt.Errorf("relay: pull custody: %w", err)
	}
	if err := r.topUpEscrowAllowance(ctx, m.Escrow(), intent.Amount); err != nil {
		r.unwind(ctx, intent, betID)
		return domain.Bet{}, err
	}

	if err := r.markets.PlaceBet(ctx, intent.MarketID, relayer, intent.Agent, intent.Outcome, intent.Amount, betID); err != nil {
		r.unwind(ctx, intent, betID)
		return domain.Bet{}, fmt.Errorf("relay: %w", err)
	}

	r.logger.InfoContext(ctx, "relay: bet placed",
		slog.String("bet_id", betID),
		slog.String("market_id", intent.MarketID.Hex()),
		slog.String("agent", intent.Agent.Hex()),
		slog.Int("outcome", intent.Outcome),
		slog.String("amount", intent.Amount.String()),
	)

	return domain.Bet{
		OffchainBetID: betID,
		MarketID:      intent.MarketID,
		Outcome:       intent.Outcome,
		Amount:        intent.Amount,
		Payer:         relayer,
		Receiver:      intent.Agent,
		Status:        domain.BetStatusAccepted,
	}, nil
}

// preflight rejects intents the agent cannot fund before any ledger write.
func (r *Relayer) preflight(ctx context.Context, intent crypto.BetIntent) error {
	balance, err := r.ledger.BalanceOf(ctx, intent.Agent)
	if err != nil {
		return fmt.Errorf("relay: read agent balance: %w", err)
	}
	if balance.Cmp(intent.Amount) < 0 {
		return fmt.Errorf("relay: agent %s holds %s, needs %s: %w",
			intent.Agent.Hex(), balance, intent.Amount, domain.ErrInsufficientBalance)
	}

	allowance, err := r.ledger.Allowance(ctx, intent.Agent, r.signer.Address())
	if err != nil {
		return fmt.Errorf("relay: read agent allowance: %w", err)
	}
	if allowance.Cmp(intent.Amount) < 0 {
		return fmt.Errorf("relay: agent %s granted %s, needs %s: %w",
			intent.Agent.Hex(), allowance, intent.Amount, domain.ErrInsufficientAllowance)
	}
	return nil
}

// topUpEscrowAllowance raises the relayer's allowance toward the market
// escrow by amount so the engine's pull succeeds.
func (r *Relayer) topUpEscrowAllowance(ctx context.Context, escrow common.Address, amount *big.Int) error {
	current, err := r.ledger.Allowance(ctx, r.signer.Address(), escrow)
	if err != nil {
		return fmt.Errorf("relay: read escrow allowance: %w", err)
	}
	next := new(big.Int).Add(current, amount)
	if err := r.ledger.Approve(ctx, r.signer.Address(), escrow, next); err != nil {
		return fmt.Errorf("relay: approve escrow: %w", err)
	}
	return nil
}

// unwind returns custodied funds to the agent after a failed placement.
func (r *Relayer) unwind(ctx context.Context, intent crypto.BetIntent, betID string) {
	if err := r.ledger.Transfer(ctx, r.signer.Address(), intent.Agent, intent.Amount); err != nil {
		// Funds are stuck in relay custody; this needs operator attention.
		r.logger.ErrorContext(ctx, "relay: custody unwind failed",
			slog.String("bet_id", betID),
			slog.String("agent", intent.Agent.Hex()),
			slog.String("amount", intent.Amount.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.WarnContext(ctx, "relay: bet rejected, custody returned",
		slog.String("bet_id", betID),
		slog.String("market_id", intent.MarketID.Hex()),
		slog.String("agent", intent.Agent.Hex()),
	)
}
