package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetStatus tracks a journaled bet attempt.
type BetStatus string

const (
	BetStatusAccepted BetStatus = "accepted"
	BetStatusFailed   BetStatus = "failed"
)

// Bet is the durable record of a single bet attempt. OffchainBetID is an
// opaque correlation tag supplied by the caller (or minted by the relay); it
// is never used for deduplication.
type Bet struct {
	OffchainBetID string
	MarketID      common.Hash
	Outcome       int
	Amount        *big.Int
	Payer         common.Address
	Receiver      common.Address
	Status        BetStatus
	FailReason    string
	PlacedAt      time.Time
}

// PositionView reports an account's cumulative stake per outcome.
type PositionView struct {
	Account common.Address
	Stakes  []*big.Int
}
