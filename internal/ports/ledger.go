package ports

import (
	"context"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

// TxHandle identifies a submitted ledger transaction (base58 signature).
type TxHandle string

// ConfirmStatus is the outcome of waiting for a transaction.
type ConfirmStatus string

const (
	ConfirmConfirmed ConfirmStatus = "CONFIRMED"
	ConfirmTimedOut  ConfirmStatus = "TIMED_OUT"
	ConfirmRejected  ConfirmStatus = "REJECTED"
)

// ConfirmResult carries the confirmation outcome and, for rejections,
// the ledger's reason.
type ConfirmResult struct {
	Status ConfirmStatus
	Reason string
}

// OrderAccount is the decoded on-chain escrow state for an order.
type OrderAccount struct {
	User       string
	InputMint  string
	OutputMint string
	ID         uint64
	Amount     uint64
	Price      int64
	Kind       domain.OrderKind
}

// LedgerGateway is the RPC/program boundary. The escrow program itself
// (account layout, instruction semantics, token transfers) lives behind
// it and is treated as fails-or-succeeds-atomically.
type LedgerGateway interface {
	// SubmitInit creates the escrow record for an order on the ledger.
	SubmitInit(ctx context.Context, order domain.Order) (TxHandle, error)

	// SubmitSettle issues the single settlement transaction for a
	// triggered order. The dispatcher is the only caller.
	SubmitSettle(ctx context.Context, order domain.Order) (TxHandle, error)

	// Confirm waits for the transaction to reach a confirmed state,
	// bounded by the gateway's configured timeout.
	Confirm(ctx context.Context, handle TxHandle) (ConfirmResult, error)

	// FetchOrderAccount returns the on-chain escrow for the order id, or
	// (nil, nil) when the account does not exist, which, for a known
	// order, means it was settled and closed.
	FetchOrderAccount(ctx context.Context, id uint64) (*OrderAccount, error)
}
