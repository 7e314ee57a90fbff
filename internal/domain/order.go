package domain

import (
	"errors"
	"fmt"
	"time"
)

// OrderKind selects the trigger comparison direction.
type OrderKind string

const (
	// TakeProfit fires when the observed price is >= the threshold.
	TakeProfit OrderKind = "TP"
	// StopLoss fires when the observed price is <= the threshold.
	StopLoss OrderKind = "SL"
)

// OrderStatus represents the lifecycle of a conditional order.
//
// Pending is the only state in which price is evaluated. Submitting is
// entered atomically with the decision to fire and blocks re-firing.
// Settled and Failed are terminal; an order never leaves them.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusSubmitting OrderStatus = "SUBMITTING"
	StatusSettled    OrderStatus = "SETTLED"
	StatusFailed     OrderStatus = "FAILED"
)

// Terminal returns true for Settled and Failed.
func (s OrderStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

var (
	// ErrDuplicateID is returned when registering an order whose id was
	// already used within the registry's lifetime. Ids are never reused.
	ErrDuplicateID = errors.New("duplicate order id")

	// ErrOrderNotFound is returned when looking up an unknown order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrFeedUnavailable means the price feed exhausted its reconnect
	// policy. Orders depending on that feed stay Pending indefinitely.
	ErrFeedUnavailable = errors.New("price feed unavailable")

	// ErrConfirmationTimeout means a settlement was sent but its
	// confirmation could not be observed in time. The transaction may
	// still have landed, so callers must reconcile before declaring failure.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// Order is one conditional instruction against an on-chain escrow.
// Amount, mints and threshold are fixed at creation and immutable after.
type Order struct {
	ID         uint64
	Pair       string // feed symbol, e.g. "SOLUSDT"
	InputMint  string // base58 mint committed into the escrow
	OutputMint string // base58 mint received on settlement
	Amount     uint64 // input amount, smallest units
	Threshold  float64
	Kind       OrderKind
	Status     OrderStatus

	TxSignature string // settlement signature once known
	FailReason  string // populated on Failed

	CreatedAt time.Time
	ClosedAt  *time.Time // set on terminal transition
}

// Triggered reports whether the given price satisfies the order's
// condition. The comparison is inclusive on both sides: a price exactly
// equal to the threshold fires.
func (o Order) Triggered(price float64) bool {
	switch o.Kind {
	case TakeProfit:
		return price >= o.Threshold
	case StopLoss:
		return price <= o.Threshold
	default:
		return false
	}
}

// Validate checks the fields a caller controls at registration time.
func (o Order) Validate() error {
	if o.ID == 0 {
		return fmt.Errorf("order %d: id must be non-zero", o.ID)
	}
	if o.Pair == "" {
		return fmt.Errorf("order %d: pair is required", o.ID)
	}
	if o.Amount == 0 {
		return fmt.Errorf("order %d: amount must be positive", o.ID)
	}
	if o.Threshold <= 0 {
		return fmt.Errorf("order %d: threshold must be positive", o.ID)
	}
	if o.Kind != TakeProfit && o.Kind != StopLoss {
		return fmt.Errorf("order %d: unknown kind %q", o.ID, o.Kind)
	}
	return nil
}
