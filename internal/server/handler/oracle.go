package handler

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	cryptoeth "github.com/ethereum/go-ethereum/crypto"

	cryptointent "github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/domain"
)

// OracleService defines what the oracle handler needs from the service layer.
type OracleService interface {
	RequestResolution(ctx context.Context, marketID common.Hash, data []byte) (domain.ResolutionRequest, error)
	Resolve(ctx context.Context, operator common.Address, requestID common.Hash, outcome int, evidence []byte, evidenceHash common.Hash) (domain.ResolutionRequest, error)
	GetRequest(ctx context.Context, requestID common.Hash) (domain.ResolutionRequest, error)
	ListByMarket(ctx context.Context, marketID common.Hash) ([]domain.ResolutionRequest, error)
	GetEvidence(ctx context.Context, requestID common.Hash) (io.ReadCloser, error)
	ListEvidence(ctx context.Context) ([]domain.BlobInfo, error)
}

// OracleHandler serves the two-phase oracle HTTP endpoints.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service and logger.
func NewOracleHandler(oracle OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracle: oracle,
		logger: logger,
	}
}

type resolutionDTO struct {
	RequestID    string `json:"request_id"`
	MarketID     string `json:"market_id"`
	Data         string `json:"data,omitempty"`
	Status       string `json:"status"`
	Outcome      int    `json:"outcome"`
	EvidenceHash string `json:"evidence_hash"`
	RequestedAt  string `json:"requested_at"`
	ResolvedAt   string `json:"resolved_at,omitempty"`
}

func toResolutionDTO(req domain.ResolutionRequest) resolutionDTO {
	dto := resolutionDTO{
		RequestID:    req.RequestID.Hex(),
		MarketID:     req.MarketID.Hex(),
		Status:       string(req.Status),
		Outcome:      req.Outcome,
		EvidenceHash: req.EvidenceHash.Hex(),
		RequestedAt:  req.RequestedAt.UTC().Format(time.RFC3339),
	}
	if len(req.Data) > 0 {
		dto.Data = base64.StdEncoding.EncodeToString(req.Data)
	}
	if req.ResolvedAt != nil {
		dto.ResolvedAt = req.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

type requestResolutionRequest struct {
	MarketID string `json:"market_id"`
	Data     string `json:"data,omitempty"` // base64
}

// RequestResolution opens a pending resolution request. Permissionless.
// POST /api/oracle/requests
func (h *OracleHandler) RequestResolution(w http.ResponseWriter, r *http.Request) {
	var req requestResolutionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !isHex32(req.MarketID) {
		writeError(w, http.StatusBadRequest, "malformed market_id")
		return
	}

	var data []byte
	if req.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "data must be base64")
			return
		}
		data = decoded
	}

	res, err := h.oracle.RequestResolution(r.Context(), common.HexToHash(req.MarketID), data)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResolutionDTO(res))
}

type resolveRequest struct {
	Outcome      int    `json:"outcome"`
	Evidence     string `json:"evidence,omitempty"` // base64
	EvidenceHash string `json:"evidence_hash,omitempty"`
	Signature    string `json:"signature"`
}

// Resolve consumes a pending request, proposing its outcome. The operator is
// recovered from the signature over (request, outcome, evidence hash) and
// checked against the allowlist downstream; asserting someone else's address
// is not possible.
// POST /api/oracle/requests/{id}/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request id")
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var evidence []byte
	if req.Evidence != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Evidence)
		if err != nil {
			writeError(w, http.StatusBadRequest, "evidence must be base64")
			return
		}
		evidence = decoded
	}
	evidenceHash := common.HexToHash(req.EvidenceHash)
	if evidenceHash == (common.Hash{}) && len(evidence) > 0 {
		evidenceHash = cryptoeth.Keccak256Hash(evidence)
	}

	operator, err := cryptointent.RecoverResolveSigner(cryptointent.ResolveIntent{
		RequestID:    requestID,
		Outcome:      req.Outcome,
		EvidenceHash: evidenceHash,
	}, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed signature")
		return
	}

	res, err := h.oracle.Resolve(
		r.Context(),
		operator,
		requestID,
		req.Outcome,
		evidence,
		evidenceHash,
	)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolve failed",
			slog.String("request_id", requestID.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResolutionDTO(res))
}

// GetRequest returns a resolution request by its derived ID.
// GET /api/oracle/requests/{id}
func (h *OracleHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request id")
		return
	}

	req, err := h.oracle.GetRequest(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResolutionDTO(req))
}

// ListByMarket returns the journaled requests for one market.
// GET /api/markets/{id}/resolutions
func (h *OracleHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return
	}

	reqs, err := h.oracle.ListByMarket(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]resolutionDTO, 0, len(reqs))
	for _, req := range reqs {
		dtos = append(dtos, toResolutionDTO(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolutions": dtos})
}

// GetEvidence streams the archived evidence document for a resolved request.
// GET /api/oracle/requests/{id}/evidence
func (h *OracleHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request id")
		return
	}

	body, err := h.oracle.GetEvidence(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: streaming evidence failed",
			slog.String("request_id", requestID.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

type evidenceInfoDTO struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListEvidence returns metadata for every archived evidence document.
// GET /api/oracle/evidence
func (h *OracleHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	infos, err := h.oracle.ListEvidence(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]evidenceInfoDTO, 0, len(infos))
	for _, info := range infos {
		dtos = append(dtos, evidenceInfoDTO{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": dtos})
}
