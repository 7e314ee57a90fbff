package engine_test

import (
	"context"
	"sync"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

// mockLedger counts settlement submissions and returns scripted results.
type mockLedger struct {
	mu sync.Mutex

	settleCalls []uint64
	settleErr   error
	settleDelay time.Duration
	onSettle    func(order domain.Order) // runs when a submission arrives

	confirmResult ports.ConfirmResult
	confirmErr    error

	accounts map[uint64]*ports.OrderAccount
	fetchErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		confirmResult: ports.ConfirmResult{Status: ports.ConfirmConfirmed},
		accounts:      make(map[uint64]*ports.OrderAccount),
	}
}

func (m *mockLedger) SubmitInit(_ context.Context, order domain.Order) (ports.TxHandle, error) {
	return ports.TxHandle("init-sig"), nil
}

func (m *mockLedger) SubmitSettle(ctx context.Context, order domain.Order) (ports.TxHandle, error) {
	if m.settleDelay > 0 {
		select {
		case <-time.After(m.settleDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.onSettle != nil {
		m.onSettle(order)
	}

	m.mu.Lock()
	m.settleCalls = append(m.settleCalls, order.ID)
	m.mu.Unlock()

	if m.settleErr != nil {
		return "", m.settleErr
	}
	return ports.TxHandle("settle-sig"), nil
}

func (m *mockLedger) Confirm(_ context.Context, _ ports.TxHandle) (ports.ConfirmResult, error) {
	return m.confirmResult, m.confirmErr
}

func (m *mockLedger) FetchOrderAccount(_ context.Context, id uint64) (*ports.OrderAccount, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id], nil
}

func (m *mockLedger) setAccount(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = &ports.OrderAccount{ID: id}
}

func (m *mockLedger) settleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settleCalls)
}

// mockNotifier records every emitted event.
type mockNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockNotifier) Notify(_ context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockNotifier) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventKind, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

func (m *mockNotifier) byKind(kind domain.EventKind) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// mockStore is an in-memory OrderStore.
type mockStore struct {
	mu     sync.Mutex
	orders map[uint64]domain.Order
}

func newMockStore() *mockStore {
	return &mockStore{orders: make(map[uint64]domain.Order)}
}

func (m *mockStore) SaveOrder(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *mockStore) GetOrder(_ context.Context, id uint64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, id uint64, status domain.OrderStatus, reason, txSig string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	if reason != "" {
		o.FailReason = reason
	}
	if txSig != "" {
		o.TxSignature = txSig
	}
	m.orders[id] = o
	return nil
}

func (m *mockStore) LoadOpen(_ context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStore) History(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	return nil, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) status(id uint64) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

// mockFeed streams a scripted sequence of ticks per pair, then closes.
type mockFeed struct {
	mu    sync.Mutex
	ticks map[string][]domain.PriceTick

	// keepOpen leaves the channel open until ctx is cancelled, mimicking
	// a healthy long-lived stream.
	keepOpen bool
}

func newMockFeed() *mockFeed {
	return &mockFeed{ticks: make(map[string][]domain.PriceTick), keepOpen: true}
}

func (m *mockFeed) script(pair string, prices ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prices {
		m.ticks[pair] = append(m.ticks[pair], domain.PriceTick{
			Pair:       pair,
			Price:      p,
			ObservedAt: time.Now().UTC(),
		})
	}
}

func (m *mockFeed) Subscribe(ctx context.Context, pair string) (<-chan domain.PriceTick, error) {
	m.mu.Lock()
	scripted := m.ticks[pair]
	m.mu.Unlock()

	out := make(chan domain.PriceTick)
	go func() {
		defer close(out)
		for _, tick := range scripted {
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
		if m.keepOpen {
			<-ctx.Done()
		}
	}()
	return out, nil
}
