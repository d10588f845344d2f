package txn

import (
	"context"
	"errors"

	"txflow/pkg/logger"
)

// Callback is the caller-supplied unit of work. It receives a context
// carrying the transaction slot (use it for all downstream calls) and the
// status handle, on which it may call SetRollbackOnly.
type Callback func(ctx context.Context, status *Status) (any, error)

// Operations is the transactional execution surface. Implemented by
// Template; accept this interface where only execution is needed.
type Operations interface {
	Execute(ctx context.Context, fn Callback) (any, error)
}

// Template executes units of work inside a transaction obtained from a
// Manager, translating callback errors into rollback decisions and
// re-raising them to the caller. It holds no transactional state of its
// own beyond the definition it was built with, so one instance is safe to
// share across concurrent call chains.
type Template struct {
	def Definition
	mgr Manager

	// callbacks is non-nil when the manager prefers driving the unit of
	// work itself; resolved once at construction.
	callbacks CallbackManager

	// rollbackFor decides which callback errors trigger rollback.
	// Errors outside the set still roll back but are re-signaled as
	// CodeUndeclaredFailure wrapping the original.
	rollbackFor func(error) bool
}

// Compile-time check that Template implements Operations.
var _ Operations = (*Template)(nil)

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// WithDefinition replaces the template's transaction definition
// (default: DefaultDefinition).
func WithDefinition(def Definition) TemplateOption {
	return func(t *Template) { t.def = def }
}

// WithRollbackFilter installs the policy deciding which callback errors
// are rollback-triggering. The default treats every error as such.
func WithRollbackFilter(filter func(error) bool) TemplateOption {
	return func(t *Template) { t.rollbackFor = filter }
}

// NewTemplate creates a Template over the given manager.
func NewTemplate(mgr Manager, opts ...TemplateOption) *Template {
	t := &Template{
		def:         DefaultDefinition(),
		mgr:         mgr,
		rollbackFor: func(error) bool { return true },
	}
	if cm, ok := mgr.(CallbackManager); ok {
		t.callbacks = cm
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Definition returns the definition this template executes under.
func (t *Template) Definition() Definition {
	return t.def
}

// Execute runs fn inside a transaction obtained per the template's
// definition. On normal completion the transaction is committed and the
// callback result returned; commit errors (including the unexpected-
// rollback signal) propagate. On a callback error the transaction is
// rolled back and the original error re-raised, unless the rollback
// itself fails, in which case the rollback failure supersedes it with the
// original attached as cause. A panic in fn rolls back and re-panics.
func (t *Template) Execute(ctx context.Context, fn Callback) (any, error) {
	if t.callbacks != nil {
		return t.callbacks.ExecuteInTransaction(ctx, t.def, fn)
	}

	txCtx, status, err := t.mgr.Begin(ctx, t.def)
	if err != nil {
		return nil, err
	}

	result, err := t.invoke(txCtx, status, fn)
	if err != nil {
		if rbErr := t.rollbackOnError(txCtx, status, err); rbErr != nil {
			return nil, rbErr
		}
		if !t.rollbackFor(err) {
			return nil, NewUndeclaredFailure(err)
		}
		return nil, err
	}

	if err := t.mgr.Commit(txCtx, status); err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteWithoutResult runs a unit of work that produces no value.
func (t *Template) ExecuteWithoutResult(ctx context.Context, fn func(ctx context.Context, status *Status) error) error {
	_, err := t.Execute(ctx, func(ctx context.Context, status *Status) (any, error) {
		return nil, fn(ctx, status)
	})
	return err
}

// invoke runs the callback with panic protection: a panicking unit of
// work rolls the transaction back before the panic continues.
func (t *Template) invoke(ctx context.Context, status *Status, fn Callback) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rbErr := t.rollbackOnError(ctx, status, nil); rbErr != nil {
				logger.Error(ctx, "rollback after panic failed", "error", rbErr, "panic", r)
			}
			panic(r)
		}
	}()
	return fn(ctx, status)
}

// rollbackOnError rolls back after a failed unit of work. A rollback
// failure is returned in place of the triggering error, wrapping it as
// cause so no information is lost.
func (t *Template) rollbackOnError(ctx context.Context, status *Status, original error) error {
	logger.Debug(ctx, "initiating transaction rollback on application error", "error", original)
	rbErr := t.mgr.Rollback(ctx, status)
	if rbErr == nil {
		return nil
	}
	logger.Error(ctx, "application error overridden by rollback failure",
		"rollback_error", rbErr, "application_error", original)
	if original == nil {
		return rbErr
	}
	if txErr, ok := AsError(rbErr); ok {
		return txErr.WithCause(joinCauses(txErr.Err, original))
	}
	return NewSystemFailure("rollback", joinCauses(rbErr, original))
}

func joinCauses(errs ...error) error {
	filtered := errs[:0]
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	return errors.Join(filtered...)
}

// Run executes fn through ops and returns its typed result. It is the
// generic convenience over Operations.Execute for callers that want a
// concrete return type.
func Run[T any](ctx context.Context, ops Operations, fn func(ctx context.Context, status *Status) (T, error)) (T, error) {
	result, err := ops.Execute(ctx, func(ctx context.Context, status *Status) (any, error) {
		return fn(ctx, status)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}
