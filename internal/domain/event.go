package domain

import "time"

// EventKind classifies a keeper state transition.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventTriggered  EventKind = "triggered"
	EventSubmitting EventKind = "submitting"
	EventSubmitted  EventKind = "submitted"
	EventSettled    EventKind = "settled"
	EventFailed     EventKind = "failed"
	EventReconciled EventKind = "reconciled"
	EventFeedDown   EventKind = "feed_down"
	EventFeedUp     EventKind = "feed_up"
)

// Event is a structured record of one state transition. Every transition
// is reported: an order stuck Pending because its feed died must be
// distinguishable from one legitimately waiting for price.
type Event struct {
	Kind        EventKind
	OrderID     uint64
	AttemptID   string // uuid correlating the events of one dispatch
	Pair        string
	Price       float64 // trigger price, when applicable
	TxSignature string
	Reason      string
	At          time.Time
}
