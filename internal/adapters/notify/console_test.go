package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrisw/tpslkeeper/internal/adapters/notify"
	"github.com/thrisw/tpslkeeper/internal/domain"
)

func TestNotify_EventLines(t *testing.T) {
	cases := []struct {
		name  string
		event domain.Event
		want  []string
	}{
		{
			name:  "registered",
			event: domain.Event{Kind: domain.EventRegistered, OrderID: 1, Pair: "SOLUSDT"},
			want:  []string{"order 1 registered", "SOLUSDT"},
		},
		{
			name:  "triggered",
			event: domain.Event{Kind: domain.EventTriggered, OrderID: 1, Pair: "SOLUSDT", Price: 19},
			want:  []string{"TRIGGERED", "SOLUSDT=19.0000"},
		},
		{
			name:  "submitting",
			event: domain.Event{Kind: domain.EventSubmitting, OrderID: 1, Pair: "SOLUSDT"},
			want:  []string{"order 1 submitting settlement"},
		},
		{
			name:  "submitted",
			event: domain.Event{Kind: domain.EventSubmitted, OrderID: 1, TxSignature: "abcdefghijklmnopqrstuvwxyz"},
			want:  []string{"settlement sent", "abcdef…uvwxyz"},
		},
		{
			name:  "settled",
			event: domain.Event{Kind: domain.EventSettled, OrderID: 1, TxSignature: "short"},
			want:  []string{"SETTLED", "short"},
		},
		{
			name:  "failed",
			event: domain.Event{Kind: domain.EventFailed, OrderID: 1, Reason: "rejected: 0x1"},
			want:  []string{"FAILED", "rejected: 0x1"},
		},
		{
			name:  "reconciled",
			event: domain.Event{Kind: domain.EventReconciled, OrderID: 1, Reason: "escrow closed"},
			want:  []string{"reconciled", "escrow closed"},
		},
		{
			name:  "feed down",
			event: domain.Event{Kind: domain.EventFeedDown, Pair: "SOLUSDT", Reason: "price feed unavailable"},
			want:  []string{"FEED DOWN", "SOLUSDT", "price feed unavailable"},
		},
		{
			name:  "feed up",
			event: domain.Event{Kind: domain.EventFeedUp, Pair: "SOLUSDT"},
			want:  []string{"feed up", "SOLUSDT"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := notify.NewConsoleWriter(&buf)

			tc.event.At = time.Now()
			require.NoError(t, c.Notify(context.Background(), tc.event))

			out := buf.String()
			for _, want := range tc.want {
				assert.Contains(t, out, want)
			}
			assert.Equal(t, 1, strings.Count(out, "\n"), "one line per event")
		})
	}
}

func TestPrintStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf).PrintStatus(nil, nil)
	assert.Contains(t, buf.String(), "no orders tracked")
}

func TestPrintStatus_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	orders := []domain.Order{
		{ID: 1, Pair: "SOLUSDT", Kind: domain.TakeProfit, Threshold: 19, Amount: 100, Status: domain.StatusPending},
		{ID: 2, Pair: "SOLUSDT", Kind: domain.StopLoss, Threshold: 12, Amount: 50,
			Status: domain.StatusFailed, FailReason: "confirmation timeout"},
	}
	latest := map[string]domain.PriceTick{
		"SOLUSDT": {Pair: "SOLUSDT", Price: 15.5},
	}

	c.PrintStatus(orders, latest)

	out := buf.String()
	assert.Contains(t, out, "SOLUSDT")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "confirmation timeout")
	assert.Contains(t, out, "15.5000")
}
