package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	cryptointent "github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/domain"
)

// MarketService defines what the market handler needs from the service
// layer. Declared locally so the handler package does not depend on the
// concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, params domain.MarketParams) (domain.MarketSnapshot, error)
	GetSnapshot(ctx context.Context, marketID common.Hash) (domain.MarketSnapshot, error)
	GetPosition(ctx context.Context, marketID common.Hash, account common.Address) (domain.PositionView, *big.Int, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error)
	ListBets(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Bet, error)
	Count(ctx context.Context) int64
	Close(ctx context.Context, marketID common.Hash) error
	Finalize(ctx context.Context, marketID common.Hash) error
	Dispute(ctx context.Context, marketID common.Hash, reasonHash common.Hash) error
	Cancel(ctx context.Context, caller common.Address, marketID common.Hash) error
	Claim(ctx context.Context, marketID common.Hash, account, receiver common.Address) (*big.Int, error)
	ClaimRefund(ctx context.Context, marketID common.Hash, account, receiver common.Address) (*big.Int, error)
	TreasuryBalance(ctx context.Context) (common.Address, *big.Int, error)
	ListBetsByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Bet, error)
	GetSettlement(ctx context.Context, marketID common.Hash, account common.Address) (domain.Settlement, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type snapshotDTO struct {
	MarketID        string    `json:"market_id"`
	Escrow          string    `json:"escrow"`
	State           string    `json:"state"`
	OutcomeCount    int       `json:"outcome_count"`
	FeeBps          uint32    `json:"fee_bps"`
	CloseTime       time.Time `json:"close_time"`
	DisputeWindowS  int64     `json:"dispute_window_secs"`
	MetadataHash    string    `json:"metadata_hash"`
	TotalPool       string    `json:"total_pool"`
	OutcomePools    []string  `json:"outcome_pools"`
	ProposedOutcome int       `json:"proposed_outcome"`
	DisputeDeadline string    `json:"dispute_deadline,omitempty"`
	FinalOutcome    int       `json:"final_outcome"`
	CreatedAt       time.Time `json:"created_at"`
}

func toSnapshotDTO(s domain.MarketSnapshot) snapshotDTO {
	pools := make([]string, len(s.OutcomePools))
	for i, p := range s.OutcomePools {
		pools[i] = p.String()
	}
	dto := snapshotDTO{
		MarketID:        s.MarketID.Hex(),
		Escrow:          s.Escrow.Hex(),
		State:           string(s.State),
		OutcomeCount:    s.OutcomeCount,
		FeeBps:          s.FeeBps,
		CloseTime:       s.CloseTime,
		DisputeWindowS:  int64(s.DisputeWindow / time.Second),
		MetadataHash:    s.MetadataHash.Hex(),
		TotalPool:       s.TotalPool.String(),
		OutcomePools:    pools,
		ProposedOutcome: s.ProposedOutcome,
		FinalOutcome:    s.FinalOutcome,
		CreatedAt:       s.CreatedAt,
	}
	if !s.DisputeDeadline.IsZero() {
		dto.DisputeDeadline = s.DisputeDeadline.UTC().Format(time.RFC3339)
	}
	return dto
}

type recordDTO struct {
	MarketID        string    `json:"market_id"`
	Escrow          string    `json:"escrow"`
	State           string    `json:"state"`
	OutcomeCount    int       `json:"outcome_count"`
	FeeBps          uint32    `json:"fee_bps"`
	CloseTime       time.Time `json:"close_time"`
	TotalPool       string    `json:"total_pool"`
	ProposedOutcome int       `json:"proposed_outcome"`
	FinalOutcome    int       `json:"final_outcome"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toRecordDTO(r domain.MarketRecord) recordDTO {
	return recordDTO{
		MarketID:        r.MarketID.Hex(),
		Escrow:          r.Escrow.Hex(),
		State:           string(r.State),
		OutcomeCount:    r.OutcomeCount,
		FeeBps:          r.FeeBps,
		CloseTime:       r.CloseTime,
		TotalPool:       r.TotalPool.String(),
		ProposedOutcome: r.ProposedOutcome,
		FinalOutcome:    r.FinalOutcome,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type createMarketRequest struct {
	MarketID      string `json:"market_id"`
	OutcomeCount  int    `json:"outcome_count"`
	FeeBps        uint32 `json:"fee_bps"`
	CloseTime     string `json:"close_time"`
	DisputeWindow int64  `json:"dispute_window_secs"`
	MetadataHash  string `json:"metadata_hash"`
}

// CreateMarket registers a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !isHex32(req.MarketID) {
		writeError(w, http.StatusBadRequest, "malformed market_id")
		return
	}
	closeTime, err := time.Parse(time.RFC3339, req.CloseTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "close_time must be RFC3339")
		return
	}

	snap, err := h.markets.CreateMarket(r.Context(), domain.MarketParams{
		MarketID:      common.HexToHash(req.MarketID),
		OutcomeCount:  req.OutcomeCount,
		FeeBps:        req.FeeBps,
		CloseTime:     closeTime,
		DisputeWindow: time.Duration(req.DisputeWindow) * time.Second,
		MetadataHash:  common.HexToHash(req.MetadataHash),
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create market failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

type listMarketsResponse struct {
	Markets []recordDTO `json:"markets"`
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// ListMarkets returns journaled markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	records, err := h.markets.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	dtos := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: dtos,
		Total:   h.markets.Count(r.Context()),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns the live snapshot of a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}

	snap, err := h.markets.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

type positionResponse struct {
	MarketID  string   `json:"market_id"`
	Account   string   `json:"account"`
	Stakes    []string `json:"stakes"`
	Claimable string   `json:"claimable"`
}

// GetPosition returns an account's per-outcome stakes and claimable payout.
// GET /api/markets/{id}/positions/{account}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account address")
		return
	}

	pos, claimable, err := h.markets.GetPosition(r.Context(), id, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stakes := make([]string, len(pos.Stakes))
	for i, s := range pos.Stakes {
		stakes[i] = s.String()
	}
	writeJSON(w, http.StatusOK, positionResponse{
		MarketID:  id.Hex(),
		Account:   account.Hex(),
		Stakes:    stakes,
		Claimable: claimable.String(),
	})
}

type betDTO struct {
	BetID      string    `json:"bet_id"`
	MarketID   string    `json:"market_id"`
	Outcome    int       `json:"outcome"`
	Amount     string    `json:"amount"`
	Payer      string    `json:"payer"`
	Receiver   string    `json:"receiver"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	PlacedAt   time.Time `json:"placed_at"`
}

func toBetDTOs(bets []domain.Bet) []betDTO {
	dtos := make([]betDTO, 0, len(bets))
	for _, b := range bets {
		dtos = append(dtos, betDTO{
			BetID:      b.OffchainBetID,
			MarketID:   b.MarketID.Hex(),
			Outcome:    b.Outcome,
			Amount:     b.Amount.String(),
			Payer:      b.Payer.Hex(),
			Receiver:   b.Receiver.Hex(),
			Status:     string(b.Status),
			FailReason: b.FailReason,
			PlacedAt:   b.PlacedAt,
		})
	}
	return dtos
}

// ListBets returns a market's journaled bet attempts.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}

	bets, err := h.markets.ListBets(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": toBetDTOs(bets)})
}

// ListAccountBets returns the bet attempts crediting one account, across all
// markets.
// GET /api/accounts/{account}/bets
func (h *MarketHandler) ListAccountBets(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account address")
		return
	}

	bets, err := h.markets.ListBetsByAccount(r.Context(), account, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": toBetDTOs(bets)})
}

// CloseMarket transitions an expired market to closed. Permissionless.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.markets.Close)
}

// FinalizeMarket settles a proposed market after its dispute window.
// POST /api/markets/{id}/finalize
func (h *MarketHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.markets.Finalize)
}

func (h *MarketHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Hash) error) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}

	if err := op(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.markets.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

type disputeRequest struct {
	ReasonHash string `json:"reason_hash"`
}

// DisputeMarket challenges a proposed outcome inside the dispute window.
// POST /api/markets/{id}/dispute
func (h *MarketHandler) DisputeMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}
	var req disputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.markets.Dispute(r.Context(), id, common.HexToHash(req.ReasonHash)); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.markets.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// actionCancel is the signed-intent action tag for market cancellation.
const actionCancel = "cancel"

type cancelRequest struct {
	Signature string `json:"signature"`
}

// CancelMarket invokes the admin-only cancellation transition. The caller is
// recovered from the signature, never taken from the request; a non-admin
// signer is rejected by the factory.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, err := cryptointent.RecoverActionSigner(cryptointent.ActionIntent{
		Action:   actionCancel,
		MarketID: id,
	}, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}

	if err := h.markets.Cancel(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.markets.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

type claimRequest struct {
	Receiver  string `json:"receiver"`
	Signature string `json:"signature"`
}

type claimResponse struct {
	MarketID string `json:"market_id"`
	Account  string `json:"account"`
	Receiver string `json:"receiver"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
}

// Claim pays out an account's winning share.
// POST /api/markets/{id}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, string(domain.SettlementPayout), h.markets.Claim)
}

// ClaimRefund returns an account's stake on a cancelled market.
// POST /api/markets/{id}/refund
func (h *MarketHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, string(domain.SettlementRefund), h.markets.ClaimRefund)
}

func (h *MarketHandler) settle(w http.ResponseWriter, r *http.Request, kind string, op func(context.Context, common.Hash, common.Address, common.Address) (*big.Int, error)) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	// A zero receiver in the signed intent means "pay the signer". The
	// settling account is always the recovered signer, so nobody can move
	// another account's settlement.
	var receiver common.Address
	if req.Receiver != "" {
		if !common.IsHexAddress(req.Receiver) {
			writeError(w, http.StatusBadRequest, "malformed receiver address")
			return
		}
		receiver = common.HexToAddress(req.Receiver)
	}
	account, err := cryptointent.RecoverActionSigner(cryptointent.ActionIntent{
		Action:   kind,
		MarketID: id,
		Receiver: receiver,
	}, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}
	if receiver == (common.Address{}) {
		receiver = account
	}

	amount, err := op(r.Context(), id, account, receiver)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		MarketID: id.Hex(),
		Account:  account.Hex(),
		Receiver: receiver.Hex(),
		Kind:     kind,
		Amount:   amount.String(),
	})
}

type settlementDTO struct {
	MarketID  string    `json:"market_id"`
	Account   string    `json:"account"`
	Receiver  string    `json:"receiver"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	SettledAt time.Time `json:"settled_at"`
}

// GetSettlement returns an account's journaled settlement on a market.
// GET /api/markets/{id}/settlements/{account}
func (h *MarketHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account address")
		return
	}

	st, err := h.markets.GetSettlement(r.Context(), id, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settlementDTO{
		MarketID:  st.MarketID.Hex(),
		Account:   st.Account.Hex(),
		Receiver:  st.Receiver.Hex(),
		Kind:      string(st.Kind),
		Amount:    st.Amount.String(),
		SettledAt: st.SettledAt,
	})
}

// GetTreasury reports the treasury account and its accumulated fee balance.
// GET /api/treasury
func (h *MarketHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	treasury, balance, err := h.markets.TreasuryBalance(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": treasury.Hex(),
		"balance": balance.String(),
	})
}
