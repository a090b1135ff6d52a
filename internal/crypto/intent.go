package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// intentTypeHash domain-separates bet-intent digests from any other signed
// payload an agent wallet might produce.
var intentTypeHash = ethcrypto.Keccak256(
	[]byte("BetIntent(bytes32 marketId,uint256 outcome,uint256 amount,address agent,address relayer,string betId)"),
)

// BetIntent is the payload an agent signs to authorize the relayer to move
// its funds into a market. BetID doubles as the offchain correlation tag.
type BetIntent struct {
	MarketID common.Hash
	Outcome  int
	Amount   *big.Int
	Agent    common.Address
	Relayer  common.Address
	BetID    string
}

// Digest computes the 32-byte keccak digest of the intent.
func (i BetIntent) Digest() []byte {
	return ethcrypto.Keccak256(
		intentTypeHash,
		i.MarketID.Bytes(),
		common.LeftPadBytes(big.NewInt(int64(i.Outcome)).Bytes(), 32),
		common.LeftPadBytes(i.Amount.Bytes(), 32),
		common.LeftPadBytes(i.Agent.Bytes(), 32),
		common.LeftPadBytes(i.Relayer.Bytes(), 32),
		ethcrypto.Keccak256([]byte(i.BetID)),
	)
}

// Signer signs bet intents with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignIntent signs the intent digest and returns a hex-encoded 65-byte
// signature (r || s || v).
func (s *Signer) SignIntent(intent BetIntent) (string, error) {
	return s.signDigest(intent.Digest())
}

// RecoverIntentSigner recovers the address that signed the intent. The
// relay compares it against the intent's agent to verify authorization.
func RecoverIntentSigner(intent BetIntent, signature string) (common.Address, error) {
	return recoverDigestSigner(intent.Digest(), signature)
}

// actionTypeHash domain-separates action-intent digests from bet intents.
var actionTypeHash = ethcrypto.Keccak256(
	[]byte("ActionIntent(string action,bytes32 marketId,address receiver)"),
)

// ActionIntent is the payload an account signs to authorize a market
// lifecycle or settlement action. The acting account is recovered from the
// signature, never asserted by the caller. Receiver is zero for actions
// without one (e.g. cancel) and for self-settlement.
type ActionIntent struct {
	Action   string
	MarketID common.Hash
	Receiver common.Address
}

// Digest computes the 32-byte keccak digest of the action intent.
func (i ActionIntent) Digest() []byte {
	return ethcrypto.Keccak256(
		actionTypeHash,
		ethcrypto.Keccak256([]byte(i.Action)),
		i.MarketID.Bytes(),
		common.LeftPadBytes(i.Receiver.Bytes(), 32),
	)
}

// SignAction signs the action intent digest.
func (s *Signer) SignAction(intent ActionIntent) (string, error) {
	return s.signDigest(intent.Digest())
}

// RecoverActionSigner recovers the account that authorized the action.
func RecoverActionSigner(intent ActionIntent, signature string) (common.Address, error) {
	return recoverDigestSigner(intent.Digest(), signature)
}

// resolveTypeHash domain-separates oracle resolutions from other intents.
var resolveTypeHash = ethcrypto.Keccak256(
	[]byte("ResolveIntent(bytes32 requestId,uint256 outcome,bytes32 evidenceHash)"),
)

// ResolveIntent is the payload an oracle operator signs to propose an
// outcome. The operator is recovered from the signature and checked against
// the allowlist downstream.
type ResolveIntent struct {
	RequestID    common.Hash
	Outcome      int
	EvidenceHash common.Hash
}

// Digest computes the 32-byte keccak digest of the resolve intent.
func (i ResolveIntent) Digest() []byte {
	return ethcrypto.Keccak256(
		resolveTypeHash,
		i.RequestID.Bytes(),
		common.LeftPadBytes(big.NewInt(int64(i.Outcome)).Bytes(), 32),
		i.EvidenceHash.Bytes(),
	)
}

// SignResolve signs the resolve intent digest.
func (s *Signer) SignResolve(intent ResolveIntent) (string, error) {
	return s.signDigest(intent.Digest())
}

// RecoverResolveSigner recovers the operator that authorized the resolution.
func RecoverResolveSigner(intent ResolveIntent, signature string) (common.Address, error) {
	return recoverDigestSigner(intent.Digest(), signature)
}

// approvalTypeHash domain-separates allowance approvals from other intents.
var approvalTypeHash = ethcrypto.Keccak256(
	[]byte("ApprovalIntent(address spender,uint256 amount)"),
)

// ApprovalIntent is the payload an owner signs to set a spender's allowance
// on the asset ledger. The owner is recovered from the signature. Replays
// are harmless: Approve sets an absolute amount.
type ApprovalIntent struct {
	Spender common.Address
	Amount  *big.Int
}

// Digest computes the 32-byte keccak digest of the approval intent.
func (i ApprovalIntent) Digest() []byte {
	return ethcrypto.Keccak256(
		approvalTypeHash,
		common.LeftPadBytes(i.Spender.Bytes(), 32),
		common.LeftPadBytes(i.Amount.Bytes(), 32),
	)
}

// SignApproval signs the approval intent digest.
func (s *Signer) SignApproval(intent ApprovalIntent) (string, error) {
	return s.signDigest(intent.Digest())
}

// RecoverApprovalSigner recovers the owner that authorized the approval.
func RecoverApprovalSigner(intent ApprovalIntent, signature string) (common.Address, error) {
	return recoverDigestSigner(intent.Digest(), signature)
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing intent: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverDigestSigner(digest []byte, signature string) (common.Address, error) {
	sigHex := strings.TrimPrefix(signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: expected 65-byte signature, got %d bytes", len(sig))
	}

	// go-ethereum expects v in {0,1}.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recovering signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
