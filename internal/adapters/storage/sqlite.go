package storage

// sqlite.go: local order records for crash recovery.
//
// The ledger is the durable truth; this table only remembers which
// orders the keeper was tracking and how far each one got, so startup
// can reconcile every non-terminal row against the chain before tick
// evaluation resumes.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thrisw/tpslkeeper/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id           INTEGER PRIMARY KEY,
    pair         TEXT    NOT NULL,
    input_mint   TEXT    NOT NULL,
    output_mint  TEXT    NOT NULL,
    amount       INTEGER NOT NULL,
    threshold    REAL    NOT NULL,
    kind         TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    tx_signature TEXT    NOT NULL DEFAULT '',
    fail_reason  TEXT    NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL,
    closed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_orders_status  ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC);
`

// SQLiteStore implements ports.OrderStore using SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema. ":memory:" works for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveOrder inserts or replaces the full order record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, pair, input_mint, output_mint, amount, threshold, kind,
			 status, tx_signature, fail_reason, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			tx_signature = excluded.tx_signature,
			fail_reason  = excluded.fail_reason,
			closed_at    = excluded.closed_at`,
		int64(o.ID), o.Pair, o.InputMint, o.OutputMint, int64(o.Amount),
		o.Threshold, string(o.Kind), string(o.Status), o.TxSignature,
		o.FailReason, o.CreatedAt.UTC(), nullableTime(o.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOrder: order %d: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the stored record for one order, terminal or not.
func (s *SQLiteStore) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, input_mint, output_mint, amount, threshold, kind,
		       status, tx_signature, fail_reason, created_at, closed_at
		FROM orders
		WHERE id = ?`,
		int64(id),
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: order %d: %w", id, err)
	}
	defer rows.Close()

	out, err := scanOrders(rows)
	if err != nil {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: order %d: %w", id, err)
	}
	if len(out) == 0 {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: order %d: %w", id, domain.ErrOrderNotFound)
	}
	return out[0], nil
}

// UpdateStatus records a lifecycle transition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus, reason, txSig string) error {
	var closedAt any
	if status.Terminal() {
		closedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, fail_reason = ?, tx_signature = ?, closed_at = COALESCE(?, closed_at)
		WHERE id = ?`,
		string(status), reason, txSig, closedAt, int64(id),
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: order %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("storage.UpdateStatus: order %d: %w", id, domain.ErrOrderNotFound)
	}
	return nil
}

// LoadOpen returns every order whose stored status is non-terminal.
func (s *SQLiteStore) LoadOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, input_mint, output_mint, amount, threshold, kind,
		       status, tx_signature, fail_reason, created_at, closed_at
		FROM orders
		WHERE status IN (?, ?)
		ORDER BY created_at`,
		string(domain.StatusPending), string(domain.StatusSubmitting),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOpen: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// History returns orders created in [from, to], newest first.
func (s *SQLiteStore) History(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, input_mint, output_mint, amount, threshold, kind,
		       status, tx_signature, fail_reason, created_at, closed_at
		FROM orders
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.History: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// Close closes the database cleanly.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		var (
			o        domain.Order
			id       int64
			amount   int64
			kind     string
			status   string
			closedAt sql.NullTime
		)
		if err := rows.Scan(&id, &o.Pair, &o.InputMint, &o.OutputMint, &amount,
			&o.Threshold, &kind, &status, &o.TxSignature, &o.FailReason,
			&o.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		o.ID = uint64(id)
		o.Amount = uint64(amount)
		o.Kind = domain.OrderKind(kind)
		o.Status = domain.OrderStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			o.ClosedAt = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
