package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	cryptointent "github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/domain"
)

// RelayService defines what the relay handler needs from the relayer.
type RelayService interface {
	PlaceRelayedBet(ctx context.Context, intent cryptointent.BetIntent, signature string) (domain.Bet, error)
	Address() common.Address
}

// RelayHandler accepts signed bet intents over HTTP.
type RelayHandler struct {
	relay  RelayService
	logger *slog.Logger
}

// NewRelayHandler creates a RelayHandler with the given relayer and logger.
func NewRelayHandler(relay RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		relay:  relay,
		logger: logger,
	}
}

type relayBetRequest struct {
	MarketID  string `json:"market_id"`
	Outcome   int    `json:"outcome"`
	Amount    string `json:"amount"`
	Agent     string `json:"agent"`
	BetID     string `json:"bet_id,omitempty"`
	Signature string `json:"signature"`
}

type relayBetResponse struct {
	BetID    string `json:"bet_id"`
	MarketID string `json:"market_id"`
	Outcome  int    `json:"outcome"`
	Amount   string `json:"amount"`
	Agent    string `json:"agent"`
	Status   string `json:"status"`
}

// PlaceBet verifies and executes a signed bet intent.
// POST /api/relay/bets
func (h *RelayHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req relayBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !isHex32(req.MarketID) {
		writeError(w, http.StatusBadRequest, "malformed market_id")
		return
	}
	if !common.IsHexAddress(req.Agent) {
		writeError(w, http.StatusBadRequest, "malformed agent address")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed amount")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}

	intent := cryptointent.BetIntent{
		MarketID: common.HexToHash(req.MarketID),
		Outcome:  req.Outcome,
		Amount:   amount,
		Agent:    common.HexToAddress(req.Agent),
		Relayer:  h.relay.Address(),
		BetID:    req.BetID,
	}

	bet, err := h.relay.PlaceRelayedBet(r.Context(), intent, req.Signature)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: relayed bet rejected",
			slog.String("market_id", req.MarketID),
			slog.String("agent", req.Agent),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, relayBetResponse{
		BetID:    bet.OffchainBetID,
		MarketID: bet.MarketID.Hex(),
		Outcome:  bet.Outcome,
		Amount:   bet.Amount.String(),
		Agent:    bet.Receiver.Hex(),
		Status:   string(bet.Status),
	})
}
