package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

// Config controls the engine run loop.
type Config struct {
	// ShutdownGrace is how long in-flight settlement dispatches may keep
	// running after shutdown is requested before they are cut off and
	// recorded as Failed.
	ShutdownGrace time.Duration

	// Once makes Run return as soon as every registered order reaches a
	// terminal state.
	Once bool
}

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() Config {
	return Config{ShutdownGrace: 45 * time.Second}
}

// Engine wires the feed, evaluator, dispatcher and registry into the
// trigger-and-settle loop. All collaborators are injected; the engine
// holds no global state.
type Engine struct {
	cfg      Config
	feed     ports.PriceFeed
	ledger   ports.LedgerGateway
	store    ports.OrderStore // optional, may be nil
	notifier ports.Notifier

	registry   *Registry
	evaluator  *Evaluator
	dispatcher *Dispatcher
}

// New creates an Engine with all dependencies injected. store may be nil
// to run without local persistence.
func New(cfg Config, feed ports.PriceFeed, ledger ports.LedgerGateway, store ports.OrderStore, notifier ports.Notifier) *Engine {
	registry := NewRegistry()
	dispatcher := NewDispatcher(ledger, registry, store, notifier)

	return &Engine{
		cfg:        cfg,
		feed:       feed,
		ledger:     ledger,
		store:      store,
		notifier:   notifier,
		registry:   registry,
		evaluator:  NewEvaluator(registry, dispatcher),
		dispatcher: dispatcher,
	}
}

// Register adds a new conditional order in Pending state and persists
// it. An order whose stored record is already terminal stays terminal:
// leaving a settled or failed order in the config must never re-arm it.
func (e *Engine) Register(ctx context.Context, order domain.Order) error {
	fresh := true
	if e.store != nil {
		stored, err := e.store.GetOrder(ctx, order.ID)
		switch {
		case err == nil && stored.Status.Terminal():
			if err := e.registry.Add(stored); err != nil {
				return fmt.Errorf("engine.Register: order %d: %w", order.ID, err)
			}
			slog.Info("order already terminal, not re-arming",
				"order_id", stored.ID, "status", stored.Status)
			return nil
		case err == nil:
			// A non-terminal record survives from a previous run. Keep
			// it untouched; reconcile resolves it against the ledger.
			fresh = false
		case !errors.Is(err, domain.ErrOrderNotFound):
			slog.Warn("storage error", "order_id", order.ID, "err", err)
		}
	}

	if err := e.registry.Add(order); err != nil {
		return fmt.Errorf("engine.Register: order %d: %w", order.ID, err)
	}

	if fresh && e.store != nil {
		registered, _ := e.registry.Get(order.ID)
		if err := e.store.SaveOrder(ctx, registered); err != nil {
			slog.Warn("storage error", "order_id", order.ID, "err", err)
		}
	}

	e.emit(ctx, domain.Event{
		Kind:    domain.EventRegistered,
		OrderID: order.ID,
		Pair:    order.Pair,
	})
	return nil
}

// Orders returns a snapshot of every tracked order.
func (e *Engine) Orders() []domain.Order {
	return e.registry.All()
}

// LatestTick returns the most recent tick observed for a pair.
func (e *Engine) LatestTick(pair string) (domain.PriceTick, bool) {
	return e.evaluator.Latest(pair)
}

// Run reconciles local state against the ledger, subscribes to one feed
// stream per asset pair, and evaluates ticks until the context is
// cancelled (or, in Once mode, until every order is terminal). In-flight
// dispatches get cfg.ShutdownGrace to finish before being recorded as
// Failed.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		return fmt.Errorf("engine.Run: reconcile: %w", err)
	}

	pairs := e.registry.Pairs()
	if len(pairs) == 0 {
		slog.Info("no pending orders to watch")
		return nil
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Dispatches outlive runCtx so a settlement already in flight can
	// reach a terminal state during shutdown.
	dispatchCtx, cancelDispatches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatches()

	var feedWG sync.WaitGroup
	for _, pair := range pairs {
		ticks, err := e.feed.Subscribe(runCtx, pair)
		if err != nil {
			stop()
			feedWG.Wait()
			return fmt.Errorf("engine.Run: subscribe %s: %w", pair, err)
		}

		slog.Info("watching pair", "pair", pair, "pending", len(e.registry.ListPending(pair)))
		e.emit(ctx, domain.Event{Kind: domain.EventFeedUp, Pair: pair})

		feedWG.Add(1)
		go func(pair string, ticks <-chan domain.PriceTick) {
			defer feedWG.Done()
			e.evaluator.Consume(dispatchCtx, ticks)

			// A closed channel with a live context means the feed
			// exhausted its reconnect policy. Orders on this pair stay
			// Pending; the operator must be told.
			if runCtx.Err() == nil {
				slog.Error("price feed unavailable", "pair", pair, "err", domain.ErrFeedUnavailable)
				e.emit(ctx, domain.Event{
					Kind:   domain.EventFeedDown,
					Pair:   pair,
					Reason: domain.ErrFeedUnavailable.Error(),
				})
			}
		}(pair, ticks)
	}

	if e.cfg.Once {
		go e.stopWhenDone(runCtx, stop)
	}

	feedWG.Wait()
	e.drainDispatches(ctx, cancelDispatches)

	slog.Info("engine stopped")
	return nil
}

// reconcile checks every non-terminal order against ledger truth before
// tick evaluation starts. Orders interrupted mid-submission by a previous
// crash are resolved here: escrow gone means the settle landed; escrow
// still present means the outcome is unknowable, so the order is failed
// for the operator rather than silently re-armed.
func (e *Engine) reconcile(ctx context.Context) error {
	if e.store != nil {
		stored, err := e.store.LoadOpen(ctx)
		if err != nil {
			return err
		}
		for _, o := range stored {
			o.Status = domain.StatusPending
			if err := e.registry.Add(o); err != nil {
				if err == domain.ErrDuplicateID {
					continue // already registered from config
				}
				slog.Warn("skipping stored order", "order_id", o.ID, "err", err)
			}
		}
	}

	for _, order := range e.registry.All() {
		if order.Status.Terminal() {
			continue
		}

		account, err := e.ledger.FetchOrderAccount(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("fetch escrow for order %d: %w", order.ID, err)
		}

		wasSubmitting := e.storedStatus(ctx, order.ID) == domain.StatusSubmitting
		switch {
		case account == nil && wasSubmitting:
			// The previous process got the settle out before dying.
			settled, _ := e.registry.MarkSettled(order.ID, "")
			e.persist(ctx, settled)
			e.emit(ctx, domain.Event{
				Kind:    domain.EventReconciled,
				OrderID: order.ID,
				Reason:  "escrow closed while keeper was down",
			})

		case account != nil && wasSubmitting:
			// A submission was started and the escrow still exists. The
			// transaction could land at any moment, so re-arming would
			// risk a double settle.
			failed, _ := e.registry.MarkFailed(order.ID, "interrupted during submission")
			e.persist(ctx, failed)
			e.emit(ctx, domain.Event{
				Kind:    domain.EventFailed,
				OrderID: order.ID,
				Reason:  failed.FailReason,
			})

		case account == nil:
			slog.Warn("escrow not found on chain, order will not settle until initialized",
				"order_id", order.ID)
		}
	}
	return nil
}

// storedStatus returns the persisted status for an order, or the
// registry's if no store is configured.
func (e *Engine) storedStatus(ctx context.Context, id uint64) domain.OrderStatus {
	if e.store == nil {
		order, err := e.registry.Get(id)
		if err != nil {
			return ""
		}
		return order.Status
	}

	stored, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return ""
	}
	return stored.Status
}

// drainDispatches waits for in-flight settlements, cutting them off
// after the grace period and recording any order still Submitting.
func (e *Engine) drainDispatches(ctx context.Context, cancelDispatches context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		e.evaluator.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGrace):
		slog.Warn("shutdown grace expired, cancelling in-flight dispatches")
		cancelDispatches()
		<-done
	}

	// An order abandoned in Submitting with no terminal record would be
	// a correctness hazard for the next startup's reconciliation.
	for _, order := range e.registry.Submitting() {
		failed, _ := e.registry.MarkFailed(order.ID, "shutdown before confirmation")
		e.persist(ctx, failed)
		e.emit(ctx, domain.Event{
			Kind:    domain.EventFailed,
			OrderID: order.ID,
			Reason:  failed.FailReason,
		})
	}
}

// stopWhenDone cancels the run loop once every order is terminal.
func (e *Engine) stopWhenDone(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.registry.AllTerminal() {
				slog.Info("all orders terminal, stopping")
				stop()
				return
			}
		}
	}
}

func (e *Engine) persist(ctx context.Context, order domain.Order) {
	if e.store == nil || order.ID == 0 {
		return
	}
	if err := e.store.UpdateStatus(ctx, order.ID, order.Status, order.FailReason, order.TxSignature); err != nil {
		slog.Warn("storage error", "order_id", order.ID, "err", err)
	}
}

func (e *Engine) emit(ctx context.Context, event domain.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}
