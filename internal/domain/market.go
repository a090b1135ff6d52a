package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketState represents the lifecycle state of a market.
type MarketState string

const (
	MarketStateCreated   MarketState = "created"
	MarketStateOpen      MarketState = "open"
	MarketStateClosed    MarketState = "closed"
	MarketStateProposed  MarketState = "proposed"
	MarketStateFinal     MarketState = "final"
	MarketStateCancelled MarketState = "cancelled"
)

// FeeDenominator is the basis-point scale: 10000 bps = 100%.
const FeeDenominator = 10_000

// NoOutcome marks the absence of a proposed or final outcome.
const NoOutcome = -1

// MarketParams carries the immutable per-market configuration supplied at
// creation. MarketID is caller-assigned and must be unique across the
// registry.
type MarketParams struct {
	MarketID      common.Hash
	OutcomeCount  int
	FeeBps        uint32
	CloseTime     time.Time
	DisputeWindow time.Duration
	MetadataHash  common.Hash
}

// MarketSnapshot is a point-in-time view of a market's public state.
type MarketSnapshot struct {
	MarketID        common.Hash
	Escrow          common.Address
	State           MarketState
	OutcomeCount    int
	FeeBps          uint32
	CloseTime       time.Time
	DisputeWindow   time.Duration
	MetadataHash    common.Hash
	TotalPool       *big.Int
	OutcomePools    []*big.Int
	ProposedOutcome int // NoOutcome while unset
	DisputeDeadline time.Time
	FinalOutcome    int // NoOutcome while unset
	CreatedAt       time.Time
}

// MarketRecord is the durable journal row for a market.
type MarketRecord struct {
	MarketID        common.Hash
	Escrow          common.Address
	State           MarketState
	OutcomeCount    int
	FeeBps          uint32
	CloseTime       time.Time
	DisputeWindow   time.Duration
	MetadataHash    common.Hash
	TotalPool       *big.Int
	ProposedOutcome int
	FinalOutcome    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
