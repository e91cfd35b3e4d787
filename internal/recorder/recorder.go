package recorder

import (
	"time"

	"SavingsCircle/internal/model"
)

// EventKind names a circle lifecycle event.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventJoined   EventKind = "joined"
	EventStarted  EventKind = "started"
	EventDeposit  EventKind = "deposit"
	EventCycle    EventKind = "cycle"
	EventRefund   EventKind = "refund"
	EventReserve  EventKind = "reserve"
	EventPaused   EventKind = "paused"
	EventUnpaused EventKind = "unpaused"
)

// CircleEvent is a generic lifecycle record.
type CircleEvent struct {
	CircleID string
	Kind     EventKind
	Member   model.Address // empty for circle-wide events
	Cycle    int
	Amount   int64
	Note     string
	At       time.Time
}

// PayoutEvent records the pot paid at the end of a cycle.
type PayoutEvent struct {
	CircleID   string
	Cycle      int
	Recipient  model.Address
	Amount     int64
	TopUp      int64 // part of Amount drawn from the reserve
	Depositors int
	At         time.Time
}

// PenaltyEvent records a fine for a missed or late deposit.
type PenaltyEvent struct {
	CircleID   string
	Cycle      int
	Member     model.Address
	Late       bool
	Fine       int64
	Reputation int64 // score after the penalty
	At         time.Time
}

// Recorder persists circle history for audit and display.
type Recorder interface {
	RecordEvent(evt *CircleEvent) error
	RecordPayout(evt *PayoutEvent) error
	RecordPenalty(evt *PenaltyEvent) error
	Payouts(circleID string) ([]PayoutEvent, error)
	Close() error
}
