package postgres

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"txflow/internal/core/txn"
)

// Compile-time check that ResourceManager implements txn.ResourceManager.
var _ txn.ResourceManager = (*ResourceManager)(nil)

// ResourceManager adapts a pgx connection pool to the transaction
// engine's resource collaborator contract: BEGIN with isolation and
// access mode mapped from the definition, COMMIT/ROLLBACK, and
// SAVEPOINT handling for nested propagation.
type ResourceManager struct {
	pool *pgxpool.Pool

	// savepointSeq numbers savepoints across the manager's lifetime so
	// names stay unique within any transaction.
	savepointSeq atomic.Uint64
}

// NewResourceManager creates a resource manager over the pool.
func NewResourceManager(pool *Pool) *ResourceManager {
	return &ResourceManager{pool: pool.Pool}
}

// NewResourceManagerFromRawPool creates a resource manager from a raw
// pgxpool.Pool.
func NewResourceManagerFromRawPool(pool *pgxpool.Pool) *ResourceManager {
	return &ResourceManager{pool: pool}
}

// SupportsSavepoints reports savepoint support; PostgreSQL always has it.
func (m *ResourceManager) SupportsSavepoints() bool {
	return true
}

// Begin starts a resource transaction with the requested isolation and
// access mode. The advisory timeout is enforced server-side via
// SET LOCAL statement_timeout, protecting against runaway statements.
func (m *ResourceManager) Begin(ctx context.Context, opts txn.BeginOptions) (txn.ResourceTx, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   mapIsolation(opts.Isolation),
		AccessMode: mapAccessMode(opts.ReadOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if opts.TimeoutSeconds > 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%ds'", opts.TimeoutSeconds))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	return &resourceTx{tx: tx, mgr: m}, nil
}

// mapIsolation translates engine isolation levels to pgx ones.
// IsolationDefault leaves the server's default in place.
func mapIsolation(level txn.Isolation) pgx.TxIsoLevel {
	switch level {
	case txn.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case txn.IsolationReadCommitted:
		return pgx.ReadCommitted
	case txn.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case txn.IsolationSerializable:
		return pgx.Serializable
	default:
		return pgx.TxIsoLevel("")
	}
}

func mapAccessMode(readOnly bool) pgx.TxAccessMode {
	if readOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}

// resourceTx is one in-flight pgx transaction under engine control.
type resourceTx struct {
	tx  pgx.Tx
	mgr *ResourceManager
}

func (t *resourceTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *resourceTx) Rollback(ctx context.Context) error {
	// Rollback on a background context so it completes even when the
	// original context was cancelled.
	return t.tx.Rollback(context.WithoutCancel(ctx))
}

func (t *resourceTx) CreateSavepoint(ctx context.Context) (txn.Savepoint, error) {
	name := fmt.Sprintf("sp_%d", t.mgr.savepointSeq.Add(1))
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return "", fmt.Errorf("create savepoint: %w", err)
	}
	return txn.Savepoint(name), nil
}

func (t *resourceTx) RollbackToSavepoint(ctx context.Context, sp txn.Savepoint) error {
	if _, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+string(sp)); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	return nil
}

func (t *resourceTx) ReleaseSavepoint(ctx context.Context, sp txn.Savepoint) error {
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+string(sp)); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Querier is the statement surface shared by pool and transaction, so
// repositories work both inside and outside transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFrom returns the in-flight transaction's querier when the call
// chain is transactional, falling back to the pool otherwise.
func (m *ResourceManager) QuerierFrom(ctx context.Context) Querier {
	if rt, ok := txn.CurrentResource(ctx).(*resourceTx); ok && rt != nil {
		return rt.tx
	}
	return m.pool
}
