package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pub/sub channels for engine events. Off-chain indexers subscribe to these;
// the engine never depends on them for correctness.
const (
	ChannelMarkets     = "ch:markets"
	ChannelBets        = "ch:bets"
	ChannelResolutions = "ch:resolutions"
	ChannelSettlements = "ch:settlements"
)

// Event type tags carried in the envelope.
const (
	EventMarketCreated       = "market_created"
	EventMarketClosed        = "market_closed"
	EventBetPlaced           = "bet_placed"
	EventResolutionRequested = "resolution_requested"
	EventOutcomeProposed     = "outcome_proposed"
	EventOutcomeDisputed     = "outcome_disputed"
	EventMarketFinalized     = "market_finalized"
	EventMarketCancelled     = "market_cancelled"
	EventPayoutClaimed       = "payout_claimed"
	EventRefundClaimed       = "refund_claimed"
	EventAllowanceApproved   = "allowance_approved"
)

// EventEnvelope wraps every published event with its type tag and timestamp.
// Data holds the event-specific payload serialized as JSON.
type EventEnvelope struct {
	Type      string          `json:"type"`
	MarketID  string          `json:"market_id"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope, marshaling data as the payload. A nil data
// produces an envelope with no payload.
func NewEvent(eventType, marketID string, at time.Time, data any) (EventEnvelope, error) {
	env := EventEnvelope{
		Type:      eventType,
		MarketID:  marketID,
		Timestamp: at,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("domain: marshal %s payload: %w", eventType, err)
		}
		env.Data = raw
	}
	return env, nil
}
