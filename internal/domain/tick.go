package domain

import "time"

// PriceTick is one normalized observation from the streaming feed.
// Ticks are ephemeral: only the most recent tick per pair is retained,
// and only for inspection; trigger evaluation is tick-driven.
type PriceTick struct {
	Pair       string
	Price      float64
	ObservedAt time.Time
}
