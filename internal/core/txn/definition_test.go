package txn

import (
	"context"
	"testing"
)

func TestDefaultDefinition(t *testing.T) {
	def := DefaultDefinition()

	if def.Propagation != PropagationRequired {
		t.Errorf("Propagation = %v, want REQUIRED", def.Propagation)
	}
	if def.Isolation != IsolationDefault {
		t.Errorf("Isolation = %v, want DEFAULT", def.Isolation)
	}
	if def.TimeoutSeconds != TimeoutDefault {
		t.Errorf("TimeoutSeconds = %d, want %d", def.TimeoutSeconds, TimeoutDefault)
	}
	if def.ReadOnly {
		t.Error("ReadOnly = true, want false")
	}
	if err := def.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParsePropagation(t *testing.T) {
	tests := []struct {
		in      string
		want    Propagation
		wantErr bool
	}{
		{"REQUIRED", PropagationRequired, false},
		{"requires_new", PropagationRequiresNew, false},
		{" Nested ", PropagationNested, false},
		{"NOT_SUPPORTED", PropagationNotSupported, false},
		{"REQUIRES-NEW", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePropagation(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePropagation(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePropagation(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePropagation(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if back, err := ParsePropagation(got.String()); err != nil || back != got {
				t.Errorf("round trip of %v failed: %v, %v", got, back, err)
			}
		})
	}
}

func TestParseIsolation(t *testing.T) {
	got, err := ParseIsolation("repeatable_read")
	if err != nil || got != IsolationRepeatableRead {
		t.Errorf("ParseIsolation = %v, %v; want REPEATABLE_READ", got, err)
	}
	if _, err := ParseIsolation("SNAPSHOT"); err == nil {
		t.Error("ParseIsolation(SNAPSHOT) should fail")
	}
}

func TestDefinitionString(t *testing.T) {
	def := NewDefinition(
		WithPropagation(PropagationRequiresNew),
		WithIsolation(IsolationSerializable),
		WithTimeout(30),
		WithReadOnly(),
	)

	want := "REQUIRES_NEW,SERIALIZABLE,timeout_30,readOnly"
	if got := def.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	if got := DefaultDefinition().String(); got != "REQUIRED,DEFAULT" {
		t.Errorf("String() = %q, want REQUIRED,DEFAULT", got)
	}
}

func TestDefinitionValidate(t *testing.T) {
	if err := (Definition{Propagation: Propagation(9)}).Validate(); !IsIllegalState(err) {
		t.Errorf("invalid propagation: got %v", err)
	}
	if err := NewDefinition(WithIsolation(Isolation(9))).Validate(); !IsIllegalState(err) {
		t.Errorf("invalid isolation: got %v", err)
	}
	if err := NewDefinition(WithTimeout(-2)).Validate(); !IsIllegalState(err) {
		t.Errorf("invalid timeout: got %v", err)
	}
	if err := NewDefinition(WithTimeout(0)).Validate(); err != nil {
		t.Errorf("zero timeout should be valid: %v", err)
	}
}

func TestContextQueries_NoScope(t *testing.T) {
	ctx := context.Background()

	if InTransaction(ctx) {
		t.Error("InTransaction on bare context = true")
	}
	if CurrentName(ctx) != "" {
		t.Error("CurrentName on bare context should be empty")
	}
	if CurrentResource(ctx) != nil {
		t.Error("CurrentResource on bare context should be nil")
	}
	if CurrentReadOnly(ctx) {
		t.Error("CurrentReadOnly on bare context = true")
	}
}

func TestContextQueries_ActiveTransaction(t *testing.T) {
	rm := newFakeResource()
	c := NewCoordinator(rm)

	ctx, status, err := c.Begin(context.Background(),
		NewDefinition(WithName("inventory.post"), WithReadOnly()))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if got := CurrentName(ctx); got != "inventory.post" {
		t.Errorf("CurrentName = %q, want inventory.post", got)
	}
	if !CurrentReadOnly(ctx) {
		t.Error("CurrentReadOnly = false, want true")
	}
	if CurrentResource(ctx) == nil {
		t.Error("CurrentResource should expose the active handle")
	}

	// The caller's original context never observes the transaction; the
	// slot only travels through the derived context.
	if InTransaction(context.Background()) {
		t.Error("transaction leaked outside the derived context")
	}

	if err := c.Commit(ctx, status); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if InTransaction(ctx) {
		t.Error("transaction still bound after completion")
	}
}
