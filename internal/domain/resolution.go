package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ResolutionStatus tracks the two-phase oracle request lifecycle.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionResolved ResolutionStatus = "resolved"
)

// ResolutionRequest is the durable record of an oracle request. A request is
// consumed exactly once by the matching Resolve call.
type ResolutionRequest struct {
	RequestID    common.Hash
	MarketID     common.Hash
	Data         []byte // opaque passthrough for the resolver
	Status       ResolutionStatus
	Outcome      int         // NoOutcome until resolved
	EvidenceHash common.Hash // zero until resolved
	RequestedAt  time.Time
	ResolvedAt   *time.Time
}
