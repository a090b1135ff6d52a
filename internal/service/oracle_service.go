package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agoramarkets/parimutuel/internal/domain"
	"github.com/agoramarkets/parimutuel/internal/engine"
)

// evidencePrefix keys archived evidence documents by their hash.
const evidencePrefix = "evidence/"

// multipartThreshold is the evidence size above which archival switches to
// a multipart upload.
const multipartThreshold = 8 << 20

// OracleService wraps the oracle adapter with journaling, evidence archival,
// and event publication.
type OracleService struct {
	adapter     *engine.OracleAdapter
	resolutions domain.ResolutionStore
	evidence    domain.BlobWriter
	archive     domain.BlobReader
	bus         domain.SignalBus
	clock       engine.Clock
	logger      *slog.Logger
}

// NewOracleService creates an OracleService. evidence and archive may be nil
// when object storage is not configured; archival and the evidence read
// surface are then disabled.
func NewOracleService(
	adapter *engine.OracleAdapter,
	resolutions domain.ResolutionStore,
	evidence domain.BlobWriter,
	archive domain.BlobReader,
	bus domain.SignalBus,
	clock engine.Clock,
	logger *slog.Logger,
) *OracleService {
	return &OracleService{
		adapter:     adapter,
		resolutions: resolutions,
		evidence:    evidence,
		archive:     archive,
		bus:         bus,
		clock:       clock,
		logger:      logger.With(slog.String("component", "oracle_service")),
	}
}

// RequestResolution opens a pending resolution request for a market.
// Permissionless: anyone may ask, only operators may answer.
func (s *OracleService) RequestResolution(ctx context.Context, marketID common.Hash, data []byte) (domain.ResolutionRequest, error) {
	req, err := s.adapter.RequestResolution(ctx, marketID, data)
	if err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle_service: request: %w", err)
	}

	if err := s.resolutions.Insert(ctx, req); err != nil {
		s.warnJournal(ctx, "insert resolution request", req.RequestID, err)
	}
	s.publish(ctx, domain.EventResolutionRequested, req.MarketID, map[string]any{
		"request_id": req.RequestID.Hex(),
	})
	return req, nil
}

// Resolve consumes a pending request, proposing its outcome on the market.
// The raw evidence document, when given, is archived to object storage keyed
// by its hash; evidenceHash is derived from it unless supplied explicitly.
func (s *OracleService) Resolve(ctx context.Context, operator common.Address, requestID common.Hash, outcome int, evidence []byte, evidenceHash common.Hash) (domain.ResolutionRequest, error) {
	if evidenceHash == (common.Hash{}) && len(evidence) > 0 {
		evidenceHash = crypto.Keccak256Hash(evidence)
	}

	req, err := s.adapter.Resolve(ctx, operator, requestID, outcome, evidenceHash)
	if err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle_service: resolve: %w", err)
	}

	if err := s.resolutions.MarkResolved(ctx, req.RequestID, outcome, evidenceHash, s.clock.Now()); err != nil {
		s.warnJournal(ctx, "mark resolution resolved", req.RequestID, err)
	}
	s.archiveEvidence(ctx, evidenceHash, evidence)
	s.publish(ctx, domain.EventOutcomeProposed, req.MarketID, map[string]any{
		"request_id":    req.RequestID.Hex(),
		"outcome":       outcome,
		"evidence_hash": evidenceHash.Hex(),
	})
	return req, nil
}

// GetRequest returns a request by its derived ID.
func (s *OracleService) GetRequest(ctx context.Context, requestID common.Hash) (domain.ResolutionRequest, error) {
	req, err := s.adapter.GetRequest(requestID)
	if err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("oracle_service: get request: %w", err)
	}
	return req, nil
}

// ListByMarket returns the journaled requests for one market.
func (s *OracleService) ListByMarket(ctx context.Context, marketID common.Hash) ([]domain.ResolutionRequest, error) {
	reqs, err := s.resolutions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("oracle_service: list requests: %w", err)
	}
	return reqs, nil
}

// IsOperator reports whether addr is on the operator allowlist.
func (s *OracleService) IsOperator(addr common.Address) bool {
	return s.adapter.IsOperator(addr)
}

// GetEvidence streams the archived evidence document for a resolved request.
// The caller closes the returned reader.
func (s *OracleService) GetEvidence(ctx context.Context, requestID common.Hash) (io.ReadCloser, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("oracle_service: evidence: %w", domain.ErrNotFound)
	}
	req, err := s.adapter.GetRequest(requestID)
	if err != nil {
		return nil, fmt.Errorf("oracle_service: evidence: %w", err)
	}
	if req.EvidenceHash == (common.Hash{}) {
		return nil, fmt.Errorf("oracle_service: request %s has no evidence: %w", requestID.Hex(), domain.ErrNotFound)
	}
	body, err := s.archive.Get(ctx, evidencePath(req.EvidenceHash))
	if err != nil {
		return nil, fmt.Errorf("oracle_service: evidence: %w", err)
	}
	return body, nil
}

// ListEvidence returns metadata for every archived evidence document.
func (s *OracleService) ListEvidence(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.archive == nil {
		return nil, nil
	}
	infos, err := s.archive.List(ctx, evidencePrefix)
	if err != nil {
		return nil, fmt.Errorf("oracle_service: list evidence: %w", err)
	}
	return infos, nil
}

func (s *OracleService) archiveEvidence(ctx context.Context, hash common.Hash, evidence []byte) {
	if s.evidence == nil || len(evidence) == 0 {
		return
	}
	path := evidencePath(hash)

	// Content is addressed by hash, so an existing object is already the
	// right bytes.
	if s.archive != nil {
		if exists, err := s.archive.Exists(ctx, path); err == nil && exists {
			return
		}
	}

	var err error
	if len(evidence) > multipartThreshold {
		err = s.evidence.PutMultipart(ctx, path, bytes.NewReader(evidence), multipartThreshold)
	} else {
		err = s.evidence.Put(ctx, path, bytes.NewReader(evidence), "application/octet-stream")
	}
	if err != nil {
		s.logger.WarnContext(ctx, "oracle_service: evidence archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func evidencePath(hash common.Hash) string {
	return fmt.Sprintf("%s%s.bin", evidencePrefix, hash.Hex())
}

func (s *OracleService) publish(ctx context.Context, eventType string, marketID common.Hash, data any) {
	publishEvent(ctx, s.bus, s.logger, s.clock.Now(), domain.ChannelResolutions, eventType, marketID, data)
}

func (s *OracleService) warnJournal(ctx context.Context, op string, requestID common.Hash, err error) {
	s.logger.WarnContext(ctx, "oracle_service: journal write failed",
		slog.String("op", op),
		slog.String("request_id", requestID.Hex()),
		slog.String("error", err.Error()),
	)
}
