package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors to HTTP status codes and
// writes the response. Unknown errors become a generic 500 so internal
// details never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, trimmed(err))
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, trimmed(err))
	case errors.Is(err, domain.ErrWrongState),
		errors.Is(err, domain.ErrBettingClosed),
		errors.Is(err, domain.ErrCloseTooEarly),
		errors.Is(err, domain.ErrDisputeWindowOpen),
		errors.Is(err, domain.ErrDisputeWindowClosed),
		errors.Is(err, domain.ErrRequestConsumed),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrMarketAlreadyExists):
		writeError(w, http.StatusConflict, trimmed(err))
	case errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInvalidCloseTime),
		errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrTooFewOutcomes):
		writeError(w, http.StatusBadRequest, trimmed(err))
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusUnprocessableEntity, trimmed(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// trimmed strips the wrapping prefixes so client-facing messages carry the
// sentinel text without internal call-path noise.
func trimmed(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// decodeJSON parses the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("handler: decode body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathHash extracts a 32-byte hex path parameter using Go 1.22 routing.
func pathHash(r *http.Request, name string) (common.Hash, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return common.Hash{}, fmt.Errorf("handler: missing %s", name)
	}
	if !isHex32(raw) {
		return common.Hash{}, fmt.Errorf("handler: malformed %s %q", name, raw)
	}
	return common.HexToHash(raw), nil
}

// pathAddress extracts a 20-byte hex path parameter.
func pathAddress(r *http.Request, name string) (common.Address, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return common.Address{}, fmt.Errorf("handler: missing %s", name)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("handler: malformed %s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func isHex32(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
