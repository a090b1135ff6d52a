package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	cryptointent "github.com/agoramarkets/parimutuel/internal/crypto"
)

// LedgerService defines what the ledger handler needs from the service layer.
type LedgerService interface {
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// LedgerHandler serves balance and allowance endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

type approveRequest struct {
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

type approveResponse struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve sets a spender's allowance on the signer's balance. The owner is
// recovered from the signature, so the endpoint needs no session state.
// Replaying the request is harmless: the allowance is absolute, not additive.
// POST /api/ledger/approve
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !common.IsHexAddress(req.Spender) {
		writeError(w, http.StatusBadRequest, "malformed spender address")
		return
	}
	spender := common.HexToAddress(req.Spender)
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative base-10 integer")
		return
	}

	owner, err := cryptointent.RecoverApprovalSigner(cryptointent.ApprovalIntent{
		Spender: spender,
		Amount:  amount,
	}, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}

	if err := h.ledger.Approve(r.Context(), owner, spender, amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: approve failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  amount.String(),
	})
}

// GetBalance returns an account's spendable balance.
// GET /api/ledger/balances/{account}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account address")
		return
	}

	balance, err := h.ledger.BalanceOf(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": balance.String(),
	})
}

// GetAllowance returns the amount a spender may move from an owner's balance.
// GET /api/ledger/allowances/{owner}/{spender}
func (h *LedgerHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed owner address")
		return
	}
	spender, err := pathAddress(r, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed spender address")
		return
	}

	allowance, err := h.ledger.Allowance(r.Context(), owner, spender)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": allowance.String(),
	})
}
