package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

// Dispatcher performs the single settlement attempt for a triggered
// order and finalizes its state. It is the only component that calls
// the ledger's settlement entry point.
//
// Failures are never retried here: a Failed order requires an explicit
// operator decision, because blind retry is the exact hazard the
// at-most-once invariant exists to prevent.
type Dispatcher struct {
	ledger   ports.LedgerGateway
	registry *Registry
	store    ports.OrderStore // optional, may be nil
	notifier ports.Notifier
}

// NewDispatcher creates a dispatcher with injected dependencies.
// store may be nil when persistence is disabled.
func NewDispatcher(ledger ports.LedgerGateway, registry *Registry, store ports.OrderStore, notifier ports.Notifier) *Dispatcher {
	return &Dispatcher{
		ledger:   ledger,
		registry: registry,
		store:    store,
		notifier: notifier,
	}
}

// Dispatch submits and confirms the settlement for an order that is
// already in Submitting state. It always drives the order to a terminal
// state unless the context is cancelled mid-flight, in which case the
// engine's shutdown path records the abandonment.
func (d *Dispatcher) Dispatch(ctx context.Context, order domain.Order, trigger domain.PriceTick) {
	attemptID := uuid.NewString()
	log := slog.With("order_id", order.ID, "attempt_id", attemptID)

	d.emit(ctx, domain.Event{
		Kind:      domain.EventTriggered,
		OrderID:   order.ID,
		AttemptID: attemptID,
		Pair:      trigger.Pair,
		Price:     trigger.Price,
	})

	// The Submitting transition must be durable before anything reaches
	// the ledger. A crash after this point cannot look like Pending on
	// the next startup, or reconciliation would re-arm an order whose
	// settle may still land.
	d.persist(ctx, order)
	d.emit(ctx, domain.Event{
		Kind:      domain.EventSubmitting,
		OrderID:   order.ID,
		AttemptID: attemptID,
		Pair:      order.Pair,
	})

	handle, err := d.ledger.SubmitSettle(ctx, order)
	if err != nil {
		// Nothing reached the ledger, so a fresh order is safe later.
		log.Error("settlement submission failed", "err", err)
		d.fail(ctx, order.ID, attemptID, fmt.Sprintf("submission: %v", err))
		return
	}

	log.Info("settlement submitted", "tx", string(handle))
	d.emit(ctx, domain.Event{
		Kind:        domain.EventSubmitted,
		OrderID:     order.ID,
		AttemptID:   attemptID,
		TxSignature: string(handle),
	})

	result, err := d.ledger.Confirm(ctx, handle)
	if err != nil {
		d.fail(ctx, order.ID, attemptID, fmt.Sprintf("confirm: %v", err))
		return
	}

	switch result.Status {
	case ports.ConfirmConfirmed:
		d.settle(ctx, order.ID, attemptID, string(handle))

	case ports.ConfirmRejected:
		log.Warn("settlement rejected by ledger", "reason", result.Reason)
		d.fail(ctx, order.ID, attemptID, "rejected: "+result.Reason)

	case ports.ConfirmTimedOut:
		// The one genuinely ambiguous case: the transaction was sent but
		// confirmation never arrived. Check the escrow before declaring
		// failure: if it is gone, the settlement landed.
		d.reconcileTimeout(ctx, order, attemptID, string(handle))
	}
}

// reconcileTimeout resolves a confirmation timeout against ledger truth.
func (d *Dispatcher) reconcileTimeout(ctx context.Context, order domain.Order, attemptID, txSig string) {
	log := slog.With("order_id", order.ID, "attempt_id", attemptID)
	log.Warn("confirmation timed out, reconciling against ledger")

	account, err := d.ledger.FetchOrderAccount(ctx, order.ID)
	if err != nil {
		d.fail(ctx, order.ID, attemptID,
			fmt.Sprintf("%v (reconcile also failed: %v)", domain.ErrConfirmationTimeout, err))
		return
	}

	if account == nil {
		// Escrow closed: the timed-out settlement actually landed.
		log.Info("escrow closed on chain, settlement landed despite timeout")
		d.emit(ctx, domain.Event{
			Kind:        domain.EventReconciled,
			OrderID:     order.ID,
			AttemptID:   attemptID,
			TxSignature: txSig,
			Reason:      "escrow closed after confirmation timeout",
		})
		d.settle(ctx, order.ID, attemptID, txSig)
		return
	}

	d.fail(ctx, order.ID, attemptID, domain.ErrConfirmationTimeout.Error())
}

func (d *Dispatcher) settle(ctx context.Context, id uint64, attemptID, txSig string) {
	order, applied := d.registry.MarkSettled(id, txSig)
	if !applied {
		return
	}
	slog.Info("order settled", "order_id", id, "tx", txSig)

	d.persist(ctx, order)
	d.emit(ctx, domain.Event{
		Kind:        domain.EventSettled,
		OrderID:     id,
		AttemptID:   attemptID,
		TxSignature: txSig,
	})
}

func (d *Dispatcher) fail(ctx context.Context, id uint64, attemptID, reason string) {
	order, applied := d.registry.MarkFailed(id, reason)
	if !applied {
		return
	}
	slog.Warn("order failed", "order_id", id, "reason", reason)

	d.persist(ctx, order)
	d.emit(ctx, domain.Event{
		Kind:      domain.EventFailed,
		OrderID:   id,
		AttemptID: attemptID,
		Reason:    reason,
	})
}

func (d *Dispatcher) persist(ctx context.Context, order domain.Order) {
	if d.store == nil {
		return
	}
	if err := d.store.UpdateStatus(ctx, order.ID, order.Status, order.FailReason, order.TxSignature); err != nil {
		slog.Warn("storage error", "order_id", order.ID, "err", err)
	}
}

func (d *Dispatcher) emit(ctx context.Context, event domain.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := d.notifier.Notify(ctx, event); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}
