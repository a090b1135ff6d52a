package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramarkets/parimutuel/internal/asset"
	cryptointent "github.com/agoramarkets/parimutuel/internal/crypto"
	"github.com/agoramarkets/parimutuel/internal/service"
	storemem "github.com/agoramarkets/parimutuel/internal/store/memory"
)

func newLedgerHandler(t *testing.T) (*LedgerHandler, *asset.Ledger) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	ledger := asset.NewLedger()
	svc := service.NewLedgerService(ledger, storemem.NewAuditStore(), logger)
	return NewLedgerHandler(svc, logger), ledger
}

func signApproval(t *testing.T, signer *cryptointent.Signer, spender common.Address, amount int64) string {
	t.Helper()
	sig, err := signer.SignApproval(cryptointent.ApprovalIntent{
		Spender: spender,
		Amount:  big.NewInt(amount),
	})
	require.NoError(t, err)
	return sig
}

func TestApprove_SignedIntentSetsAllowance(t *testing.T) {
	h, ledger := newLedgerHandler(t)
	owner, err := cryptointent.NewSigner(hdlAliceKeyHex)
	require.NoError(t, err)
	spender := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	sig := signApproval(t, owner, spender, 7500)
	rec := postJSON(h.Approve, "/api/ledger/approve",
		`{"spender": "`+spender.Hex()+`", "amount": "7500", "signature": "`+sig+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, owner.Address().Hex(), resp.Owner)
	assert.Equal(t, "7500", resp.Amount)

	allowance, err := ledger.Allowance(context.Background(), owner.Address(), spender)
	require.NoError(t, err)
	assert.Equal(t, "7500", allowance.String())
}

func TestApprove_TamperedAmountBindsDifferentOwner(t *testing.T) {
	h, ledger := newLedgerHandler(t)
	owner, err := cryptointent.NewSigner(hdlAliceKeyHex)
	require.NoError(t, err)
	spender := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	// Signature covers 100; the body claims 999999. Recovery yields some
	// other address, so the signer's allowance is untouched.
	sig := signApproval(t, owner, spender, 100)
	rec := postJSON(h.Approve, "/api/ledger/approve",
		`{"spender": "`+spender.Hex()+`", "amount": "999999", "signature": "`+sig+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, owner.Address().Hex(), resp.Owner)

	allowance, err := ledger.Allowance(context.Background(), owner.Address(), spender)
	require.NoError(t, err)
	assert.Equal(t, "0", allowance.String())
}

func TestApprove_MalformedInputs(t *testing.T) {
	h, _ := newLedgerHandler(t)

	rec := postJSON(h.Approve, "/api/ledger/approve", `{"spender": "nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.Approve, "/api/ledger/approve",
		`{"spender": "0x00000000000000000000000000000000000000fe", "amount": "-5", "signature": "0x00"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.Approve, "/api/ledger/approve",
		`{"spender": "0x00000000000000000000000000000000000000fe", "amount": "5", "signature": "0x1234"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBalance(t *testing.T) {
	h, ledger := newLedgerHandler(t)
	account := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	require.NoError(t, ledger.Mint(context.Background(), account, big.NewInt(4200)))

	req := httptest.NewRequest(http.MethodGet, "/api/ledger/balances/x", nil)
	req.SetPathValue("account", account.Hex())
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "4200", resp["balance"])
}

func TestGetAllowance(t *testing.T) {
	h, ledger := newLedgerHandler(t)
	owner := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000fe")
	require.NoError(t, ledger.Approve(context.Background(), owner, spender, big.NewInt(99)))

	req := httptest.NewRequest(http.MethodGet, "/api/ledger/allowances/x/y", nil)
	req.SetPathValue("owner", owner.Hex())
	req.SetPathValue("spender", spender.Hex())
	rec := httptest.NewRecorder()
	h.GetAllowance(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "99", resp["allowance"])
}
