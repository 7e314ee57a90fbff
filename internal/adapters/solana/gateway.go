package solana

// gateway.go: ports.LedgerGateway over a JSON-RPC node.
//
// Both init and settle follow the same path: fetch a recent blockhash,
// compile and sign the instruction, send it, and poll signature status
// until the configured commitment is reached or the confirm window runs
// out. Submission failures are never retried at the transaction level;
// whether to re-attempt a settlement is the engine's call, not the
// transport's.

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

const (
	defaultCommitment      = "confirmed"
	defaultConfirmTimeout  = 60 * time.Second
	defaultConfirmInterval = 2 * time.Second
)

// Config for the gateway.
type Config struct {
	RPCURL      string
	ProgramID   string
	PriceUpdate string // oracle price-update account passed to settle
	KeypairPath string

	Commitment      string // "confirmed" or "finalized"
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
}

// Gateway implements ports.LedgerGateway for the tpsl program.
type Gateway struct {
	rpc     *rpcClient
	program *Program
	wallet  *Keypair

	commitment      string
	confirmTimeout  time.Duration
	confirmInterval time.Duration
}

// NewGateway loads the wallet and binds the program.
func NewGateway(cfg Config) (*Gateway, error) {
	wallet, err := LoadKeypair(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("solana.NewGateway: %w", err)
	}

	programID, err := PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("solana.NewGateway: program id: %w", err)
	}
	priceUpdate, err := PublicKeyFromBase58(cfg.PriceUpdate)
	if err != nil {
		return nil, fmt.Errorf("solana.NewGateway: price update account: %w", err)
	}

	if cfg.Commitment == "" {
		cfg.Commitment = defaultCommitment
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = defaultConfirmInterval
	}

	return &Gateway{
		rpc:             newRPCClient(cfg.RPCURL),
		program:         NewProgram(programID, priceUpdate, wallet),
		wallet:          wallet,
		commitment:      cfg.Commitment,
		confirmTimeout:  cfg.ConfirmTimeout,
		confirmInterval: cfg.ConfirmInterval,
	}, nil
}

// Wallet returns the keeper's wallet address.
func (g *Gateway) Wallet() string {
	return g.wallet.PublicKey().String()
}

// SubmitInit creates the escrow for an order on chain.
func (g *Gateway) SubmitInit(ctx context.Context, order domain.Order) (ports.TxHandle, error) {
	ix, err := g.program.InitInstruction(order)
	if err != nil {
		return "", fmt.Errorf("solana.SubmitInit: order %d: %w", order.ID, err)
	}
	return g.send(ctx, ix)
}

// SubmitSettle issues the settlement transaction for a triggered order.
func (g *Gateway) SubmitSettle(ctx context.Context, order domain.Order) (ports.TxHandle, error) {
	ix, err := g.program.SettleInstruction(order)
	if err != nil {
		return "", fmt.Errorf("solana.SubmitSettle: order %d: %w", order.ID, err)
	}
	return g.send(ctx, ix)
}

func (g *Gateway) send(ctx context.Context, ix Instruction) (ports.TxHandle, error) {
	blockhash, err := g.latestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := BuildTransaction(g.wallet, blockhash, ix)
	if err != nil {
		return "", err
	}

	var signature string
	err = g.rpc.call(ctx, "sendTransaction",
		[]any{
			base64.StdEncoding.EncodeToString(tx),
			map[string]any{"encoding": "base64", "preflightCommitment": g.commitment},
		},
		&signature,
	)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return ports.TxHandle(signature), nil
}

type blockhashResult struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

func (g *Gateway) latestBlockhash(ctx context.Context) (string, error) {
	var res blockhashResult
	err := g.rpc.call(ctx, "getLatestBlockhash",
		[]any{map[string]any{"commitment": g.commitment}}, &res)
	if err != nil {
		return "", err
	}
	if res.Value.Blockhash == "" {
		return "", fmt.Errorf("node returned empty blockhash")
	}
	return res.Value.Blockhash, nil
}

type signatureStatus struct {
	ConfirmationStatus string `json:"confirmationStatus"`
	Err                any    `json:"err"`
}

type signatureStatusResult struct {
	Value []*signatureStatus `json:"value"`
}

// Confirm polls the signature status until the commitment is reached,
// the ledger rejects the transaction, or the confirm window elapses.
// A TimedOut result is not an error: the caller decides what it means.
func (g *Gateway) Confirm(ctx context.Context, handle ports.TxHandle) (ports.ConfirmResult, error) {
	deadline := time.Now().Add(g.confirmTimeout)
	ticker := time.NewTicker(g.confirmInterval)
	defer ticker.Stop()

	for {
		status, err := g.signatureStatus(ctx, handle)
		if err != nil {
			return ports.ConfirmResult{}, fmt.Errorf("solana.Confirm: %w", err)
		}

		if status != nil {
			if status.Err != nil {
				return ports.ConfirmResult{
					Status: ports.ConfirmRejected,
					Reason: fmt.Sprintf("%v", status.Err),
				}, nil
			}
			if g.reached(status.ConfirmationStatus) {
				return ports.ConfirmResult{Status: ports.ConfirmConfirmed}, nil
			}
		}

		if time.Now().After(deadline) {
			slog.Warn("confirmation window elapsed", "tx", string(handle), "timeout", g.confirmTimeout)
			return ports.ConfirmResult{Status: ports.ConfirmTimedOut}, nil
		}

		select {
		case <-ctx.Done():
			return ports.ConfirmResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) signatureStatus(ctx context.Context, handle ports.TxHandle) (*signatureStatus, error) {
	var res signatureStatusResult
	err := g.rpc.call(ctx, "getSignatureStatuses",
		[]any{[]string{string(handle)}, map[string]any{"searchTransactionHistory": true}},
		&res,
	)
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// reached reports whether the observed confirmation level satisfies the
// configured commitment. finalized always does.
func (g *Gateway) reached(observed string) bool {
	if observed == "finalized" {
		return true
	}
	return observed == g.commitment
}

type accountInfoResult struct {
	Value *struct {
		Data []string `json:"data"` // [payload, encoding]
	} `json:"value"`
}

// FetchOrderAccount reads and decodes the escrow for an order id.
// Returns (nil, nil) when the account does not exist on chain.
func (g *Gateway) FetchOrderAccount(ctx context.Context, id uint64) (*ports.OrderAccount, error) {
	escrow, err := g.program.EscrowAddress(id)
	if err != nil {
		return nil, fmt.Errorf("solana.FetchOrderAccount: %w", err)
	}

	var res accountInfoResult
	err = g.rpc.call(ctx, "getAccountInfo",
		[]any{escrow.String(), map[string]any{"encoding": "base64", "commitment": g.commitment}},
		&res,
	)
	if err != nil {
		return nil, fmt.Errorf("solana.FetchOrderAccount: order %d: %w", id, err)
	}

	if res.Value == nil {
		return nil, nil
	}
	if len(res.Value.Data) == 0 {
		return nil, fmt.Errorf("solana.FetchOrderAccount: order %d: account has no data", id)
	}

	raw, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("solana.FetchOrderAccount: order %d: decode account data: %w", id, err)
	}

	account, err := DecodeEscrow(raw)
	if err != nil {
		return nil, fmt.Errorf("solana.FetchOrderAccount: order %d: %w", id, err)
	}
	return account, nil
}
