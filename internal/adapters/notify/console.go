package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// Console implements ports.Notifier: one line per event, plus an
// optional summary table of every tracked order.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify prints one event as a compact line.
func (c *Console) Notify(_ context.Context, e domain.Event) error {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stamp := ts.Local().Format("15:04:05")

	switch e.Kind {
	case domain.EventRegistered:
		fmt.Fprintf(c.out, "[%s] order %d registered, watching %s\n", stamp, e.OrderID, e.Pair)
	case domain.EventTriggered:
		fmt.Fprintf(c.out, "[%s] order %d TRIGGERED at %s=%.4f\n", stamp, e.OrderID, e.Pair, e.Price)
	case domain.EventSubmitting:
		fmt.Fprintf(c.out, "[%s] order %d submitting settlement\n", stamp, e.OrderID)
	case domain.EventSubmitted:
		fmt.Fprintf(c.out, "[%s] order %d settlement sent, tx %s\n", stamp, e.OrderID, shortSig(e.TxSignature))
	case domain.EventSettled:
		fmt.Fprintf(c.out, "[%s] order %d SETTLED, tx %s\n", stamp, e.OrderID, shortSig(e.TxSignature))
	case domain.EventFailed:
		fmt.Fprintf(c.out, "[%s] order %d FAILED: %s\n", stamp, e.OrderID, e.Reason)
	case domain.EventReconciled:
		fmt.Fprintf(c.out, "[%s] order %d reconciled against ledger: %s\n", stamp, e.OrderID, e.Reason)
	case domain.EventFeedDown:
		fmt.Fprintf(c.out, "[%s] FEED DOWN for %s: %s (pending orders will not trigger)\n", stamp, e.Pair, e.Reason)
	case domain.EventFeedUp:
		fmt.Fprintf(c.out, "[%s] feed up for %s\n", stamp, e.Pair)
	default:
		fmt.Fprintf(c.out, "[%s] order %d: %s\n", stamp, e.OrderID, e.Kind)
	}
	return nil
}

// PrintStatus renders the order table, with the latest observed price
// per pair when available.
func (c *Console) PrintStatus(orders []domain.Order, latest map[string]domain.PriceTick) {
	if len(orders) == 0 {
		fmt.Fprintln(c.out, "no orders tracked")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Pair", "Kind", "Threshold", "Last Price", "Amount", "Status", "Detail")

	for _, o := range orders {
		lastPrice := "-"
		if tick, ok := latest[o.Pair]; ok {
			lastPrice = fmt.Sprintf("%.4f", tick.Price)
		}

		detail := ""
		switch o.Status {
		case domain.StatusSettled:
			detail = shortSig(o.TxSignature)
		case domain.StatusFailed:
			detail = o.FailReason
		}

		table.Append(
			fmt.Sprintf("%d", o.ID),
			o.Pair,
			string(o.Kind),
			fmt.Sprintf("%.4f", o.Threshold),
			lastPrice,
			fmt.Sprintf("%d", o.Amount),
			string(o.Status),
			detail,
		)
	}

	table.Render()
}

// shortSig abbreviates a base58 signature for display.
func shortSig(sig string) string {
	if len(sig) <= 12 {
		if sig == "" {
			return "-"
		}
		return sig
	}
	return sig[:6] + "…" + sig[len(sig)-6:]
}
