package tests

import (
	"errors"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// WorkflowRegistryContractTest is a reusable test suite that verifies if an adapter complies with ports.WorkflowRegistry.
// expected maps each workflow ID the registry must serve to its final action.
func WorkflowRegistryContractTest(t *testing.T, registry ports.WorkflowRegistry, expected map[string]string) {
	t.Helper()

	t.Run("Get_Success", func(t *testing.T) {
		for id, action := range expected {
			def, err := registry.Get(id)
			if err != nil {
				t.Fatalf("unexpected error getting workflow %s: %v", id, err)
			}
			if def.ID != id {
				t.Errorf("id mismatch: got %q, want %q", def.ID, id)
			}
			if def.FinalAction != action {
				t.Errorf("final action mismatch for %s: got %q, want %q", id, def.FinalAction, action)
			}
		}
	})

	t.Run("Get_NotFound", func(t *testing.T) {
		_, err := registry.Get("non-existent-workflow")
		if !errors.Is(err, domain.ErrWorkflowNotFound) {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})

	t.Run("Get_ReturnsCopies", func(t *testing.T) {
		for id := range expected {
			def, _ := registry.Get(id)
			if len(def.Fields) == 0 {
				continue
			}
			def.Fields[0].Name = "tampered"
			again, _ := registry.Get(id)
			if again.Fields[0].Name == "tampered" {
				t.Errorf("registry for %s leaked its internal field slice", id)
			}
		}
	})

	t.Run("List", func(t *testing.T) {
		ids := registry.List()
		if len(ids) != len(expected) {
			t.Errorf("expected %d workflows, got %d", len(expected), len(ids))
		}

		lookup := make(map[string]bool)
		for _, id := range ids {
			lookup[id] = true
		}
		for id := range expected {
			if !lookup[id] {
				t.Errorf("workflow %s missing from list", id)
			}
		}
	})
}
