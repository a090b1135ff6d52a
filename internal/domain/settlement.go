package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementKind distinguishes winning payouts from cancellation refunds.
// An account settles at most once per market, whichever path applies.
type SettlementKind string

const (
	SettlementPayout SettlementKind = "payout"
	SettlementRefund SettlementKind = "refund"
)

// Settlement is the durable record of a completed claim.
type Settlement struct {
	MarketID  common.Hash
	Account   common.Address
	Receiver  common.Address
	Kind      SettlementKind
	Amount    *big.Int
	SettledAt time.Time
}
