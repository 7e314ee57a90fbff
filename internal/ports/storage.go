package ports

import (
	"context"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// OrderStore persists order records for crash recovery. The ledger is
// the durable truth; the store only remembers what this process was
// tracking so startup can reconcile non-terminal orders against it.
type OrderStore interface {
	// SaveOrder inserts or replaces the full order record.
	SaveOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns the stored record for one order, terminal or not.
	// Returns domain.ErrOrderNotFound when no record exists.
	GetOrder(ctx context.Context, id uint64) (domain.Order, error)

	// UpdateStatus records a lifecycle transition.
	UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus, reason, txSig string) error

	// LoadOpen returns every order whose stored status is non-terminal.
	LoadOpen(ctx context.Context) ([]domain.Order, error)

	// History returns orders created in the given time range, newest first.
	History(ctx context.Context, from, to time.Time) ([]domain.Order, error)

	// Close closes the underlying database cleanly.
	Close() error
}
