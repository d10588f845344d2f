package txn

import "context"

// Outcome is the completion status passed to AfterCompletion callbacks.
type Outcome int

const (
	// OutcomeCommitted means the transaction committed successfully.
	OutcomeCommitted Outcome = iota
	// OutcomeRolledBack means the transaction rolled back, explicitly or
	// because it was marked rollback-only.
	OutcomeRolledBack
	// OutcomeUnknown means completion was attempted but its result could
	// not be determined, e.g. the resource commit itself failed.
	OutcomeUnknown
)

// String returns the canonical outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "COMMITTED"
	case OutcomeRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Synchronization is a set of optional lifecycle callbacks attached to the
// active transaction. Callbacks fire in registration order.
//
// AfterCompletion fires exactly once per new-transaction lifecycle,
// regardless of which completion path was taken.
type Synchronization struct {
	// BeforeCommit runs before the resource commit. A returned error
	// aborts the commit and triggers the rollback path.
	BeforeCommit func(ctx context.Context, readOnly bool) error

	// AfterCommit runs after a successful resource commit.
	AfterCommit func(ctx context.Context)

	// AfterCompletion runs after commit or rollback with the outcome.
	AfterCompletion func(ctx context.Context, outcome Outcome)
}

// synchronizations is the ordered callback list owned by one bound
// transaction. completionDone guards the exactly-once contract for
// AfterCompletion.
type synchronizations struct {
	registered     []Synchronization
	completionDone bool
}

// RegisterSynchronization attaches lifecycle callbacks to the transaction
// active in the current call chain. Registration is only valid while a
// transaction is active.
func RegisterSynchronization(ctx context.Context, s Synchronization) error {
	bound := currentBound(ctx)
	if bound == nil {
		return NewIllegalState("transaction synchronization requires an active transaction")
	}
	bound.syncs.registered = append(bound.syncs.registered, s)
	return nil
}

func (s *synchronizations) triggerBeforeCommit(ctx context.Context, readOnly bool) error {
	for _, sync := range s.registered {
		if sync.BeforeCommit == nil {
			continue
		}
		if err := sync.BeforeCommit(ctx, readOnly); err != nil {
			return err
		}
	}
	return nil
}

func (s *synchronizations) triggerAfterCommit(ctx context.Context) {
	for _, sync := range s.registered {
		if sync.AfterCommit != nil {
			sync.AfterCommit(ctx)
		}
	}
}

func (s *synchronizations) triggerAfterCompletion(ctx context.Context, outcome Outcome) {
	if s.completionDone {
		return
	}
	s.completionDone = true
	for _, sync := range s.registered {
		if sync.AfterCompletion != nil {
			sync.AfterCompletion(ctx, outcome)
		}
	}
}
