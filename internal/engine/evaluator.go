package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// Evaluator consumes price ticks and decides which pending orders fire.
// It holds no correctness-relevant state: evaluation is tick-driven, and
// the latest tick per pair is kept only for inspection.
type Evaluator struct {
	registry   *Registry
	dispatcher *Dispatcher

	mu     sync.RWMutex
	latest map[string]domain.PriceTick

	wg sync.WaitGroup
}

// NewEvaluator creates an evaluator over the given registry and dispatcher.
func NewEvaluator(registry *Registry, dispatcher *Dispatcher) *Evaluator {
	return &Evaluator{
		registry:   registry,
		dispatcher: dispatcher,
		latest:     make(map[string]domain.PriceTick),
	}
}

// Consume processes ticks until the channel closes. Each tick is checked
// against every pending order for its pair; triggered orders are handed
// to the dispatcher concurrently, so a slow confirmation never blocks
// tick delivery for other orders.
//
// dispatchCtx governs the dispatches, not the tick loop. The engine
// keeps it alive through shutdown so in-flight settlements can reach a
// terminal state.
func (e *Evaluator) Consume(dispatchCtx context.Context, ticks <-chan domain.PriceTick) {
	for tick := range ticks {
		e.handleTick(dispatchCtx, tick)
	}
}

// handleTick evaluates one tick against the pending orders for its pair.
func (e *Evaluator) handleTick(dispatchCtx context.Context, tick domain.PriceTick) {
	e.mu.Lock()
	e.latest[tick.Pair] = tick
	e.mu.Unlock()

	for _, order := range e.registry.ListPending(tick.Pair) {
		if !order.Triggered(tick.Price) {
			continue
		}

		// The CAS is the at-most-once gate: if a previous tick already
		// moved this order to Submitting, this one loses the race and
		// does nothing.
		if !e.registry.TryBeginSubmission(order.ID) {
			continue
		}

		slog.Info("trigger condition met",
			"order_id", order.ID,
			"kind", order.Kind,
			"threshold", order.Threshold,
			"price", tick.Price,
		)

		order.Status = domain.StatusSubmitting
		e.wg.Add(1)
		go func(o domain.Order, t domain.PriceTick) {
			defer e.wg.Done()
			e.dispatcher.Dispatch(dispatchCtx, o, t)
		}(order, tick)
	}
}

// Latest returns the most recent tick observed for a pair.
func (e *Evaluator) Latest(pair string) (domain.PriceTick, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tick, ok := e.latest[pair]
	return tick, ok
}

// Wait blocks until all in-flight dispatches finish.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}
