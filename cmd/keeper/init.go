package main

// init.go: one-shot escrow creation for configured orders.
//
// Mirrors the watch loop's reconciliation in reverse: for every
// configured order whose escrow does not exist on chain yet, submit the
// init transaction and wait for confirmation. Orders already on chain
// are left alone, so re-running -init is safe.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thrisw/tpslkeeper/internal/adapters/notify"
	"github.com/thrisw/tpslkeeper/internal/adapters/solana"
	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/engine"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

func runInit(ctx context.Context, gateway *solana.Gateway, eng *engine.Engine) error {
	created := 0
	for _, order := range eng.Orders() {
		if order.Status.Terminal() {
			slog.Info("order already terminal, skipping", "order_id", order.ID)
			continue
		}

		account, err := gateway.FetchOrderAccount(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("check escrow for order %d: %w", order.ID, err)
		}
		if account != nil {
			slog.Info("escrow already exists", "order_id", order.ID)
			continue
		}

		if err := initEscrow(ctx, gateway, order); err != nil {
			return err
		}
		created++
	}

	slog.Info("escrow init complete", "created", created, "total", len(eng.Orders()))
	return nil
}

func initEscrow(ctx context.Context, gateway *solana.Gateway, order domain.Order) error {
	slog.Info("creating escrow",
		"order_id", order.ID,
		"amount", order.Amount,
		"threshold", order.Threshold,
		"kind", order.Kind,
	)

	handle, err := gateway.SubmitInit(ctx, order)
	if err != nil {
		return fmt.Errorf("submit init for order %d: %w", order.ID, err)
	}

	result, err := gateway.Confirm(ctx, handle)
	if err != nil {
		return fmt.Errorf("confirm init for order %d: %w", order.ID, err)
	}
	switch result.Status {
	case ports.ConfirmConfirmed:
		slog.Info("escrow created", "order_id", order.ID, "tx", string(handle))
		return nil
	case ports.ConfirmRejected:
		return fmt.Errorf("init for order %d rejected: %s", order.ID, result.Reason)
	default:
		return fmt.Errorf("init for order %d: %w", order.ID, domain.ErrConfirmationTimeout)
	}
}

// printStatus renders the final order table with latest prices.
func printStatus(console *notify.Console, eng *engine.Engine) {
	orders := eng.Orders()
	latest := make(map[string]domain.PriceTick)
	for _, o := range orders {
		if _, ok := latest[o.Pair]; ok {
			continue
		}
		if tick, ok := eng.LatestTick(o.Pair); ok {
			latest[o.Pair] = tick
		}
	}
	console.PrintStatus(orders, latest)
}
