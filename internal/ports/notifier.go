package ports

import (
	"context"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// Notifier surfaces keeper events to an operator. Silent failure is
// disallowed: every state transition goes through here.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}
