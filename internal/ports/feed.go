package ports

import (
	"context"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// PriceFeed delivers a live, ordered stream of price ticks for one pair.
type PriceFeed interface {
	// Subscribe starts streaming ticks for the given pair. The stream is
	// infinite and not restartable by the caller: the feed owns its
	// connection and reconnects internally with backoff. Subscribers see
	// a gap in ticks during a reconnect, never fabricated data.
	//
	// The channel closes in exactly two cases: the context was cancelled,
	// or the reconnect policy was exhausted (domain.ErrFeedUnavailable).
	// Callers distinguish them by checking ctx.Err().
	Subscribe(ctx context.Context, pair string) (<-chan domain.PriceTick, error)
}
