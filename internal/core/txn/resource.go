package txn

import "context"

// Savepoint is an opaque marker inside an active resource transaction,
// allowing partial rollback without aborting the whole transaction.
type Savepoint string

// BeginOptions carries the definition fields that apply to a newly
// started resource transaction.
type BeginOptions struct {
	Isolation      Isolation
	ReadOnly       bool
	TimeoutSeconds int // advisory; TimeoutDefault defers to the resource manager
	Name           string
}

// ResourceManager is the external collaborator that owns actual
// resource-level transactions. The engine never embeds a concrete storage
// technology; implementations live in infrastructure/storage.
//
// Begin must either return a usable handle or an error — a failed begin
// must leave no transaction open on the resource side.
type ResourceManager interface {
	Begin(ctx context.Context, opts BeginOptions) (ResourceTx, error)

	// SupportsSavepoints reports whether NESTED propagation can use
	// savepoints. When false, NESTED falls back to REQUIRES_NEW.
	SupportsSavepoints() bool
}

// ResourceTx is one in-flight resource transaction handle.
// Savepoint methods may return an error when the implementation reported
// SupportsSavepoints() == false.
type ResourceTx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	CreateSavepoint(ctx context.Context) (Savepoint, error)
	RollbackToSavepoint(ctx context.Context, sp Savepoint) error
	ReleaseSavepoint(ctx context.Context, sp Savepoint) error
}
