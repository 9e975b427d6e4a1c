package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates the room events fanned out to observers.
type EventType string

const (
	EventBidAccepted   EventType = "bid_accepted"
	EventOutbid        EventType = "outbid"
	EventStatusChanged EventType = "auction_status_changed"
	EventSettled       EventType = "auction_settled"
)

// Urgency is a countdown refinement published with status changes; it never
// alters the bidding contract.
type Urgency string

const (
	UrgencyNone     Urgency = ""
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

// Event is the envelope delivered to room observers. Delivery is best-effort
// and at-most-once; observers reconcile by re-reading current state.
type Event struct {
	Type      EventType       `json:"type"`
	AuctionID string          `json:"auction_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// BidAcceptedPayload announces a settled price change. Price reflects the
// final state after any proxy cascade; intermediate prices are never exposed.
type BidAcceptedPayload struct {
	Price    decimal.Decimal `json:"price"`
	BidderID string          `json:"bidder_id"`
	Kind     BidKind         `json:"kind"`
	BidCount int             `json:"bid_count"`
	EndTime  time.Time       `json:"end_time"`
}

// OutbidPayload notifies a displaced high bidder.
type OutbidPayload struct {
	PreviousBidderID string          `json:"previous_bidder_id"`
	NewPrice         decimal.Decimal `json:"new_price"`
}

// StatusChangedPayload announces a lifecycle transition or end-time rewrite.
type StatusChangedPayload struct {
	Status  AuctionStatus `json:"status"`
	EndTime time.Time     `json:"end_time"`
	Urgency Urgency       `json:"urgency,omitempty"`
}

// SettledPayload is the observer-facing form of the settlement hand-off.
type SettledPayload struct {
	WinnerID   string          `json:"winner_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	ReserveMet bool            `json:"reserve_met"`
}

// NewEvent builds an envelope with the payload marshalled in place.
func NewEvent(t EventType, auctionID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      t,
		AuctionID: auctionID,
		At:        time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// EventChannel returns the pub/sub channel carrying one auction's events.
func EventChannel(auctionID string) string {
	return "auction:" + auctionID
}

// EventChannelPattern matches every auction's event channel.
const EventChannelPattern = "auction:*"
