// Package txn implements declarative transaction management: propagation
// rules, transaction status tracking, suspension/resumption of outer
// transactions, savepoint-scoped nesting, and a template that wraps a unit
// of work in begin/commit/rollback semantics.
//
// The package is storage-agnostic. Actual resource transactions (BEGIN,
// COMMIT, ROLLBACK, SAVEPOINT) are delegated to a ResourceManager
// collaborator; the PostgreSQL implementation lives in
// infrastructure/storage/postgres.
package txn

import (
	"fmt"
	"strings"
)

// Propagation controls how a unit of work relates to a transaction already
// active in its call chain.
type Propagation int

const (
	// PropagationRequired joins the current transaction, or starts a new
	// one if none exists. This is the default.
	PropagationRequired Propagation = iota

	// PropagationSupports joins the current transaction if present,
	// otherwise runs non-transactionally.
	PropagationSupports

	// PropagationMandatory joins the current transaction and fails if
	// none exists.
	PropagationMandatory

	// PropagationRequiresNew suspends the current transaction (if any)
	// and always starts a new one.
	PropagationRequiresNew

	// PropagationNotSupported suspends the current transaction (if any)
	// and runs non-transactionally.
	PropagationNotSupported

	// PropagationNever runs non-transactionally and fails if a
	// transaction is already active.
	PropagationNever

	// PropagationNested runs within a savepoint of the current
	// transaction if the resource manager supports savepoints, falling
	// back to RequiresNew otherwise. Without an outer transaction it
	// behaves like Required.
	PropagationNested
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "REQUIRED",
	PropagationSupports:     "SUPPORTS",
	PropagationMandatory:    "MANDATORY",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationNever:        "NEVER",
	PropagationNested:       "NESTED",
}

// String returns the canonical name, e.g. "REQUIRES_NEW".
func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PROPAGATION(%d)", int(p))
}

// ParsePropagation maps a human-readable name to a Propagation.
// Matching is case-insensitive.
func ParsePropagation(s string) (Propagation, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range propagationNames {
		if name == upper {
			return p, nil
		}
	}
	return 0, NewIllegalState(fmt.Sprintf("unknown propagation behavior %q", s))
}

// Isolation is the concurrency-visibility guarantee requested from the
// resource manager when a new transaction begins. It is ignored when
// joining an existing transaction.
type Isolation int

const (
	// IsolationDefault uses the resource manager's default level.
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[Isolation]string{
	IsolationDefault:         "DEFAULT",
	IsolationReadUncommitted: "READ_UNCOMMITTED",
	IsolationReadCommitted:   "READ_COMMITTED",
	IsolationRepeatableRead:  "REPEATABLE_READ",
	IsolationSerializable:    "SERIALIZABLE",
}

// String returns the canonical name, e.g. "READ_COMMITTED".
func (i Isolation) String() string {
	if name, ok := isolationNames[i]; ok {
		return name
	}
	return fmt.Sprintf("ISOLATION(%d)", int(i))
}

// ParseIsolation maps a human-readable name to an Isolation.
// Matching is case-insensitive.
func ParseIsolation(s string) (Isolation, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range isolationNames {
		if name == upper {
			return i, nil
		}
	}
	return 0, NewIllegalState(fmt.Sprintf("unknown isolation level %q", s))
}

// TimeoutDefault defers to the resource manager's default timeout.
const TimeoutDefault = -1

// Definition describes how a transaction should be obtained: propagation
// behavior, isolation level, timeout, read-only hint and an optional
// diagnostic name.
//
// Isolation and timeout only take effect when the definition causes a
// brand-new resource transaction to start (Required/RequiresNew/Nested
// with no outer transaction); they are inert when joining.
//
// The read-only flag is advisory. A resource manager that cannot
// interpret it must not reject writes because of it.
type Definition struct {
	Propagation    Propagation
	Isolation      Isolation
	TimeoutSeconds int
	ReadOnly       bool
	Name           string
}

// DefaultDefinition returns the documented defaults: REQUIRED propagation,
// DEFAULT isolation, default timeout, read-write.
func DefaultDefinition() Definition {
	return Definition{
		Propagation:    PropagationRequired,
		Isolation:      IsolationDefault,
		TimeoutSeconds: TimeoutDefault,
	}
}

// DefinitionOption customizes a Definition.
type DefinitionOption func(*Definition)

// WithPropagation sets the propagation behavior.
func WithPropagation(p Propagation) DefinitionOption {
	return func(d *Definition) { d.Propagation = p }
}

// WithIsolation sets the isolation level for newly started transactions.
func WithIsolation(i Isolation) DefinitionOption {
	return func(d *Definition) { d.Isolation = i }
}

// WithTimeout sets the advisory timeout in seconds for newly started
// transactions. Negative values other than TimeoutDefault are invalid and
// rejected by Validate.
func WithTimeout(seconds int) DefinitionOption {
	return func(d *Definition) { d.TimeoutSeconds = seconds }
}

// WithReadOnly marks the transaction as a read-only optimization hint.
func WithReadOnly() DefinitionOption {
	return func(d *Definition) { d.ReadOnly = true }
}

// WithName attaches a diagnostic label, surfaced in logs and trace spans.
func WithName(name string) DefinitionOption {
	return func(d *Definition) { d.Name = name }
}

// NewDefinition builds a Definition from the defaults plus options.
func NewDefinition(opts ...DefinitionOption) Definition {
	def := DefaultDefinition()
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// Validate checks internal consistency of the definition.
func (d Definition) Validate() error {
	if _, ok := propagationNames[d.Propagation]; !ok {
		return NewIllegalState(fmt.Sprintf("invalid propagation behavior %d", int(d.Propagation)))
	}
	if _, ok := isolationNames[d.Isolation]; !ok {
		return NewIllegalState(fmt.Sprintf("invalid isolation level %d", int(d.Isolation)))
	}
	if d.TimeoutSeconds < TimeoutDefault {
		return NewIllegalState(fmt.Sprintf("invalid timeout %d", d.TimeoutSeconds))
	}
	return nil
}

// String renders the definition for diagnostics, mirroring the field
// order of the canonical form: PROPAGATION,ISOLATION[,timeout_N][,readOnly].
func (d Definition) String() string {
	var b strings.Builder
	b.WriteString(d.Propagation.String())
	b.WriteByte(',')
	b.WriteString(d.Isolation.String())
	if d.TimeoutSeconds != TimeoutDefault {
		fmt.Fprintf(&b, ",timeout_%d", d.TimeoutSeconds)
	}
	if d.ReadOnly {
		b.WriteString(",readOnly")
	}
	return b.String()
}
