package txn

// Status is the handle for one transactional unit of work, created by
// Manager.Begin and finalized exactly once by Commit or Rollback. The
// unit of work may inspect it and request rollback-only; all other
// mutation belongs to the manager.
//
// A Status with a nil bound transaction represents work that runs
// non-transactionally (SUPPORTS/NOT_SUPPORTED/NEVER without an outer
// transaction); completion is then pure bookkeeping.
type Status struct {
	bound          *boundTransaction
	newTransaction bool
	savepoint      Savepoint
	suspended      *suspendedTransaction
	rollbackOnly   bool
	completed      bool
}

// IsNewTransaction reports whether this status owns the underlying
// resource transaction, as opposed to participating in one that was
// already active when Begin was called.
func (s *Status) IsNewTransaction() bool {
	return s.newTransaction
}

// HasSavepoint reports whether this status represents a nested,
// savepoint-scoped portion of an outer transaction.
func (s *Status) HasSavepoint() bool {
	return s.savepoint != ""
}

// HasTransaction reports whether an actual resource transaction backs
// this status.
func (s *Status) HasTransaction() bool {
	return s.bound != nil
}

// SetRollbackOnly marks this transactional unit so that the eventual
// commit attempt is converted into a rollback. Used by a unit of work
// that has decided the transaction cannot succeed but does not want to
// raise an error.
func (s *Status) SetRollbackOnly() {
	s.rollbackOnly = true
}

// IsRollbackOnly reports whether this unit, or the whole transaction it
// participates in, has been marked rollback-only.
func (s *Status) IsRollbackOnly() bool {
	if s.rollbackOnly {
		return true
	}
	return s.bound != nil && s.bound.rollbackOnly
}

// IsCompleted reports whether this status has been finalized by commit
// or rollback. Any further commit/rollback call on a completed status
// fails with CodeIllegalState.
func (s *Status) IsCompleted() bool {
	return s.completed
}

// isLocalRollbackOnly reports the flag set through this very status, as
// opposed to the shared flag on the bound transaction. Commit defers the
// shared flag to the owning status; the local flag is always honored.
func (s *Status) isLocalRollbackOnly() bool {
	return s.rollbackOnly
}
