package txn

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"txflow/pkg/logger"
)

var tracer = otel.Tracer("txflow/txn")

// Manager is the platform transaction manager strategy: it applies the
// propagation decision table, owns resource-transaction begin/commit/
// rollback, and handles suspension, resumption and savepoints.
//
// Begin returns a derived context carrying the transaction slot; Commit
// and Rollback must be called with that context (or one derived from it).
// Each returned Status accepts exactly one Commit or Rollback.
type Manager interface {
	Begin(ctx context.Context, def Definition) (context.Context, *Status, error)
	Commit(ctx context.Context, status *Status) error
	Rollback(ctx context.Context, status *Status) error
}

// CallbackManager is the callback-preferring manager variant: instead of
// handing out a Status it drives the whole unit of work itself. The
// Template detects this variant once at construction and delegates to it.
type CallbackManager interface {
	ExecuteInTransaction(ctx context.Context, def Definition, fn Callback) (any, error)
}

// Compile-time check that Coordinator implements Manager.
var _ Manager = (*Coordinator)(nil)

// Coordinator is the status-returning Manager implementation over an
// abstract ResourceManager. It is stateless apart from configuration and
// safe to share across concurrent call chains; all per-chain state lives
// in the context-carried Scope.
type Coordinator struct {
	resources        ResourceManager
	validateExisting bool
	defaultTimeout   int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithStrictValidation rejects joining an existing transaction when the
// definition requests a different, non-default isolation level. Without
// it the requested level is silently ignored on join.
func WithStrictValidation() CoordinatorOption {
	return func(c *Coordinator) { c.validateExisting = true }
}

// WithDefaultTimeout sets the advisory timeout applied to newly started
// transactions whose definition left the timeout at TimeoutDefault.
func WithDefaultTimeout(seconds int) CoordinatorOption {
	return func(c *Coordinator) { c.defaultTimeout = seconds }
}

// NewCoordinator creates a Coordinator over the given resource manager.
func NewCoordinator(resources ResourceManager, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		resources:      resources,
		defaultTimeout: TimeoutDefault,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin obtains a transaction according to the definition's propagation
// behavior, relative to whatever transaction is already active in the
// call chain:
//
//	REQUIRED       join existing / start new
//	SUPPORTS       join existing / run without transaction
//	MANDATORY      join existing / fail
//	REQUIRES_NEW   suspend existing, start new / start new
//	NOT_SUPPORTED  suspend existing, run without / run without
//	NEVER          fail / run without transaction
//	NESTED         savepoint within existing (or REQUIRES_NEW when
//	               savepoints are unsupported) / start new
//
// Isolation and timeout from the definition apply only when a new
// resource transaction actually starts.
func (c *Coordinator) Begin(ctx context.Context, def Definition) (context.Context, *Status, error) {
	if err := def.Validate(); err != nil {
		return ctx, nil, err
	}

	ctx, span := tracer.Start(ctx, "tx.begin",
		trace.WithAttributes(
			attribute.String("tx.propagation", def.Propagation.String()),
			attribute.String("tx.isolation", def.Isolation.String()),
		))
	defer span.End()

	ctx, scope := ensureScope(ctx)
	if existing := scope.current; existing != nil {
		status, err := c.beginWithExisting(ctx, scope, existing, def)
		return ctx, status, err
	}

	switch def.Propagation {
	case PropagationMandatory:
		return ctx, nil, NewIllegalState(
			"no existing transaction found for propagation MANDATORY")

	case PropagationRequired, PropagationRequiresNew, PropagationNested:
		status, err := c.startNew(ctx, scope, def, nil)
		return ctx, status, err

	default:
		// SUPPORTS, NOT_SUPPORTED, NEVER: run non-transactionally.
		logger.Debug(ctx, "running non-transactionally",
			"propagation", def.Propagation.String())
		return ctx, &Status{}, nil
	}
}

func (c *Coordinator) beginWithExisting(ctx context.Context, scope *Scope, existing *boundTransaction, def Definition) (*Status, error) {
	switch def.Propagation {
	case PropagationNever:
		return nil, NewIllegalState(
			"existing transaction found for propagation NEVER")

	case PropagationNotSupported:
		holder := scope.suspend()
		logger.Debug(ctx, "suspended transaction to run non-transactionally",
			"name", existing.name)
		return &Status{suspended: holder}, nil

	case PropagationRequiresNew:
		holder := scope.suspend()
		status, err := c.startNew(ctx, scope, def, holder)
		if err != nil {
			// Failed begin must leave no status active; put the outer
			// transaction back before surfacing.
			if rerr := scope.resume(holder); rerr != nil {
				logger.Error(ctx, "failed to resume after begin failure", "error", rerr)
			}
			return nil, err
		}
		return status, nil

	case PropagationNested:
		if !c.resources.SupportsSavepoints() {
			holder := scope.suspend()
			status, err := c.startNew(ctx, scope, def, holder)
			if err != nil {
				if rerr := scope.resume(holder); rerr != nil {
					logger.Error(ctx, "failed to resume after begin failure", "error", rerr)
				}
				return nil, err
			}
			return status, nil
		}
		sp, err := existing.tx.CreateSavepoint(ctx)
		if err != nil {
			return nil, NewSystemFailure("create savepoint", err)
		}
		logger.Debug(ctx, "created savepoint for nested transaction",
			"savepoint", string(sp), "name", existing.name)
		return &Status{bound: existing, savepoint: sp}, nil

	default:
		// REQUIRED, SUPPORTS, MANDATORY: participate in the existing
		// transaction. Requested isolation is inert on join.
		if c.validateExisting && def.Isolation != IsolationDefault && def.Isolation != existing.isolation {
			return nil, NewIllegalState(
				fmt.Sprintf("participating transaction with definition [%s] is incompatible with existing isolation level %s",
					def, existing.isolation)).
				WithDetail("requested_isolation", def.Isolation.String()).
				WithDetail("existing_isolation", existing.isolation.String())
		}
		return &Status{bound: existing}, nil
	}
}

func (c *Coordinator) startNew(ctx context.Context, scope *Scope, def Definition, holder *suspendedTransaction) (*Status, error) {
	timeout := def.TimeoutSeconds
	if timeout == TimeoutDefault {
		timeout = c.defaultTimeout
	}
	handle, err := c.resources.Begin(ctx, BeginOptions{
		Isolation:      def.Isolation,
		ReadOnly:       def.ReadOnly,
		TimeoutSeconds: timeout,
		Name:           def.Name,
	})
	if err != nil {
		return nil, NewSystemFailure("begin", err)
	}

	bound := &boundTransaction{
		tx:        handle,
		isolation: def.Isolation,
		readOnly:  def.ReadOnly,
		name:      def.Name,
	}
	scope.current = bound
	logger.Debug(ctx, "started new transaction", "definition", def.String())

	return &Status{bound: bound, newTransaction: true, suspended: holder}, nil
}

// Commit finalizes the status. If the transaction has been marked
// rollback-only, the commit attempt is converted into a rollback: the
// owning status then reports CodeUnexpectedRollback, while a merely
// participating status defers the actual rollback to the owner.
func (c *Coordinator) Commit(ctx context.Context, status *Status) error {
	if status.IsCompleted() {
		return NewIllegalState(
			"transaction already completed: do not call commit or rollback more than once per status")
	}

	ctx, span := tracer.Start(ctx, "tx.commit")
	defer span.End()

	if status.isLocalRollbackOnly() {
		logger.Debug(ctx, "commit converted to rollback: status marked rollback-only")
		return c.processRollback(ctx, status, status.newTransaction || status.HasSavepoint())
	}
	if status.bound != nil && status.bound.rollbackOnly {
		logger.Debug(ctx, "commit converted to rollback: transaction marked rollback-only")
		return c.processRollback(ctx, status, true)
	}
	return c.processCommit(ctx, status)
}

// Rollback rolls the status back. A participating status never rolls the
// physical resource transaction back; it marks the shared transaction
// rollback-only so the owning commit is forced into a rollback.
func (c *Coordinator) Rollback(ctx context.Context, status *Status) error {
	if status.IsCompleted() {
		return NewIllegalState(
			"transaction already completed: do not call commit or rollback more than once per status")
	}

	ctx, span := tracer.Start(ctx, "tx.rollback")
	defer span.End()

	return c.processRollback(ctx, status, false)
}

func (c *Coordinator) processCommit(ctx context.Context, status *Status) error {
	bound := status.bound

	switch {
	case status.HasSavepoint():
		// Commit-by-release: the nested changes stay part of the outer
		// transaction and become durable when it commits.
		if err := bound.tx.ReleaseSavepoint(ctx, status.savepoint); err != nil {
			failure := NewSystemFailure("release savepoint", err)
			return c.finish(ctx, status, OutcomeUnknown, failure)
		}
		return c.finish(ctx, status, OutcomeCommitted, nil)

	case status.newTransaction:
		if err := bound.syncs.triggerBeforeCommit(ctx, bound.readOnly); err != nil {
			logger.Debug(ctx, "beforeCommit synchronization failed, rolling back", "error", err)
			if rbErr := bound.tx.Rollback(ctx); rbErr != nil {
				failure := NewSystemFailure("rollback", errors.Join(rbErr, err))
				return c.finish(ctx, status, OutcomeUnknown, failure)
			}
			return c.finish(ctx, status, OutcomeRolledBack, err)
		}
		if err := bound.tx.Commit(ctx); err != nil {
			failure := NewSystemFailure("commit", err)
			return c.finish(ctx, status, OutcomeUnknown, failure)
		}
		logger.Debug(ctx, "committed transaction", "name", bound.name)
		bound.syncs.triggerAfterCommit(ctx)
		return c.finish(ctx, status, OutcomeCommitted, nil)

	default:
		// Participating or non-transactional: nothing happens at the
		// resource level; the owning status commits for the chain.
		return c.finish(ctx, status, OutcomeCommitted, nil)
	}
}

func (c *Coordinator) processRollback(ctx context.Context, status *Status, unexpected bool) error {
	var failure error
	bound := status.bound

	switch {
	case status.HasSavepoint():
		// Roll back the nested portion only; the outer transaction
		// stays active and committable.
		if err := bound.tx.RollbackToSavepoint(ctx, status.savepoint); err != nil {
			failure = NewSystemFailure("rollback to savepoint", err)
		} else if err := bound.tx.ReleaseSavepoint(ctx, status.savepoint); err != nil {
			failure = NewSystemFailure("release savepoint", err)
		}

	case status.newTransaction:
		logger.Debug(ctx, "rolling back transaction", "name", bound.name)
		if err := bound.tx.Rollback(ctx); err != nil {
			failure = NewSystemFailure("rollback", err)
		}

	case bound != nil:
		// Participating: the physical transaction stays open; force the
		// owning commit into a rollback instead.
		bound.rollbackOnly = true
		logger.Debug(ctx, "participating transaction marked rollback-only", "name", bound.name)
		unexpected = false

	default:
		// Non-transactional status; nothing to roll back.
		unexpected = false
	}

	outcome := OutcomeRolledBack
	if failure != nil {
		outcome = OutcomeUnknown
	}
	if err := c.finish(ctx, status, outcome, failure); err != nil {
		return err
	}
	if unexpected {
		return NewUnexpectedRollback(
			"transaction rolled back because it has been marked as rollback-only")
	}
	return nil
}

// finish marks the status completed, fires afterCompletion for an owning
// status, detaches the transaction from the scope and resumes anything
// this status suspended. It runs on every completion path so a failed
// commit or rollback never leaks an inconsistent context.
func (c *Coordinator) finish(ctx context.Context, status *Status, outcome Outcome, failure error) error {
	status.completed = true
	scope := scopeFrom(ctx)

	if status.newTransaction {
		status.bound.syncs.triggerAfterCompletion(ctx, outcome)
		if scope != nil && scope.current == status.bound {
			scope.current = nil
		}
	}

	if status.suspended != nil {
		holder := status.suspended
		status.suspended = nil
		if scope == nil {
			err := NewIllegalState("cannot resume suspended transaction: no transaction scope in context")
			logger.Error(ctx, "resume failed", "error", err)
			if failure == nil {
				failure = err
			}
		} else if err := scope.resume(holder); err != nil {
			logger.Error(ctx, "resume failed", "error", err)
			if failure == nil {
				failure = err
			}
		}
	}

	return failure
}
