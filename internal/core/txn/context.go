package txn

import "context"

// boundTransaction is the shared state of one active resource transaction:
// the resource handle, the flags participants may observe or set, and the
// synchronization callbacks registered within its scope.
//
// All statuses participating in the same transaction point at the same
// boundTransaction, which is how a participant's rollback marks the whole
// chain rollback-only.
type boundTransaction struct {
	tx           ResourceTx
	isolation    Isolation
	readOnly     bool
	name         string
	rollbackOnly bool
	syncs        synchronizations
}

// suspendedTransaction is an opaque snapshot of an outer transaction taken
// on suspend and restored on resume. depth records the suspension stack
// position so out-of-order resumption can fail fast.
type suspendedTransaction struct {
	bound *boundTransaction
	depth int
}

// Scope is the per-call-chain transaction slot: the currently active
// transaction plus the LIFO stack of suspended ones. It is carried in
// context.Context and mutated only by the Coordinator.
//
// A Scope is confined to one logical call chain. Work dispatched onto a
// new goroutine only shares the transaction when its context derives from
// the transactional context, and completing a transaction concurrently
// through one Scope is a programming error.
type Scope struct {
	current   *boundTransaction
	suspended []*suspendedTransaction
}

type scopeKey struct{}

// ensureScope returns the call chain's Scope, deriving a fresh context
// with an empty Scope when none is present yet.
func ensureScope(ctx context.Context) (context.Context, *Scope) {
	if scope, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return ctx, scope
	}
	scope := &Scope{}
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

func scopeFrom(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

func currentBound(ctx context.Context) *boundTransaction {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.current
	}
	return nil
}

// suspend detaches the active transaction from the scope and pushes it
// onto the suspension stack, leaving the slot empty.
func (s *Scope) suspend() *suspendedTransaction {
	holder := &suspendedTransaction{bound: s.current, depth: len(s.suspended)}
	s.suspended = append(s.suspended, holder)
	s.current = nil
	return holder
}

// resume restores previously suspended resources into the slot.
// Resumption must be strictly LIFO; anything else corrupts the chain and
// is rejected.
func (s *Scope) resume(holder *suspendedTransaction) error {
	top := len(s.suspended) - 1
	if top < 0 || s.suspended[top] != holder {
		return NewIllegalState("suspended resources resumed out of order").
			WithDetail("expected_depth", holder.depth).
			WithDetail("stack_depth", len(s.suspended))
	}
	s.suspended = s.suspended[:top]
	s.current = holder.bound
	return nil
}

// InTransaction reports whether an actual resource transaction is active
// in the current call chain.
func InTransaction(ctx context.Context) bool {
	return currentBound(ctx) != nil
}

// CurrentName returns the diagnostic name of the active transaction, or
// "" when none is active or it has no name.
func CurrentName(ctx context.Context) string {
	if bound := currentBound(ctx); bound != nil {
		return bound.name
	}
	return ""
}

// CurrentReadOnly reports whether the active transaction carries the
// read-only hint. False when no transaction is active.
func CurrentReadOnly(ctx context.Context) bool {
	if bound := currentBound(ctx); bound != nil {
		return bound.readOnly
	}
	return false
}

// CurrentResource exposes the active resource transaction handle so
// storage adapters can route statements through it, or nil when the call
// chain is non-transactional. Callers must not commit or roll back the
// handle directly; lifecycle belongs to the Manager.
func CurrentResource(ctx context.Context) ResourceTx {
	if bound := currentBound(ctx); bound != nil {
		return bound.tx
	}
	return nil
}
