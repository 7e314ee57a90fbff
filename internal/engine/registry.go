package engine

import (
	"sync"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// Registry is the concurrency-safe store of order records keyed by id.
// It exclusively owns the records: the dispatcher requests transitions,
// it never mutates an order directly.
//
// A single RWMutex over the map is enough here: a keeper tracks a
// handful of orders, and the hot path (ListPending per tick) takes only
// the read lock. The one write-path primitive that matters for
// correctness is TryBeginSubmission's check-and-set.
type Registry struct {
	mu     sync.RWMutex
	orders map[uint64]*domain.Order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{orders: make(map[uint64]*domain.Order)}
}

// Add registers a new order in Pending state. It returns
// domain.ErrDuplicateID if the id was ever registered, terminal or not:
// ids are never reused within a registry's lifetime. Nothing is mutated
// on rejection.
func (r *Registry) Add(order domain.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrDuplicateID
	}

	if order.Status == "" {
		order.Status = domain.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	r.orders[order.ID] = &order
	return nil
}

// Get returns a copy of the order, or domain.ErrOrderNotFound.
func (r *Registry) Get(id uint64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *o, nil
}

// TryBeginSubmission atomically transitions Pending → Submitting and
// returns true only if the prior state was exactly Pending. It returns
// false, without mutating, when the order is missing or already
// Submitting/Settled/Failed.
//
// This single check-and-set is what enforces at-most-one settlement
// submission per order id under concurrent tick delivery.
func (r *Registry) TryBeginSubmission(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != domain.StatusPending {
		return false
	}
	o.Status = domain.StatusSubmitting
	return true
}

// MarkSettled transitions Submitting → Settled and records the
// settlement signature. It is an idempotent no-op when the order is
// already terminal. The second return value reports whether the
// transition was applied.
func (r *Registry) MarkSettled(id uint64, txSig string) (domain.Order, bool) {
	return r.finish(id, domain.StatusSettled, "", txSig)
}

// MarkFailed transitions Submitting → Failed with a reason. Idempotent
// no-op when already terminal.
func (r *Registry) MarkFailed(id uint64, reason string) (domain.Order, bool) {
	return r.finish(id, domain.StatusFailed, reason, "")
}

func (r *Registry) finish(id uint64, status domain.OrderStatus, reason, txSig string) (domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	if o.Status.Terminal() {
		return *o, false
	}

	now := time.Now().UTC()
	o.Status = status
	o.ClosedAt = &now
	if reason != "" {
		o.FailReason = reason
	}
	if txSig != "" {
		o.TxSignature = txSig
	}
	return *o, true
}

// ListPending returns copies of every Pending order for the given pair.
func (r *Registry) ListPending(pair string) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.StatusPending && o.Pair == pair {
			out = append(out, *o)
		}
	}
	return out
}

// Pairs returns the distinct asset pairs with at least one non-terminal
// order. The engine subscribes to one feed stream per pair.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var pairs []string
	for _, o := range r.orders {
		if !o.Status.Terminal() && !seen[o.Pair] {
			seen[o.Pair] = true
			pairs = append(pairs, o.Pair)
		}
	}
	return pairs
}

// All returns copies of every order in the registry.
func (r *Registry) All() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out
}

// AllTerminal reports whether every registered order reached a terminal
// state. Used by run-once mode to know when to stop.
func (r *Registry) AllTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if !o.Status.Terminal() {
			return false
		}
	}
	return len(r.orders) > 0
}

// Submitting returns copies of every order currently in Submitting
// state. Used at shutdown to record abandoned dispatches.
func (r *Registry) Submitting() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.StatusSubmitting {
			out = append(out, *o)
		}
	}
	return out
}
