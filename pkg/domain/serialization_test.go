package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext(t *testing.T) *domain.WorkflowContext {
	t.Helper()
	invoice := domain.WorkflowDefinition{
		ID:          "create_invoice",
		FinalAction: "create_invoice",
		Fields:      []domain.FieldSpec{{Name: "product_ids", Required: true}},
		Entities: []domain.EntityRequirement{
			{Name: "customer", SearchField: "customer_email", ResolvedKey: "customer_id",
				CreateIfMissing: true, SubWorkflow: "create_customer", SeedField: "email"},
		},
	}
	customer := domain.WorkflowDefinition{
		ID:          "create_customer",
		FinalAction: "create_customer",
		Fields: []domain.FieldSpec{
			{Name: "email", Required: true},
			{Name: "quantity", Required: true},
		},
	}

	wc := domain.NewContext("s-42", "u-7", 5)
	wc.SetMetadata("channel", "http")

	parent := domain.NewFrame(invoice, map[string]any{"customer_email": "new@x.io"})
	parent.SetPhase(domain.PhaseAwaitingSubworkflow)
	parent.SetEntity("customer", domain.EntityState{Status: domain.EntityResolving})
	require.NoError(t, wc.Push(parent))

	child := domain.NewChildFrame(customer, "customer", map[string]any{"email": "new@x.io"})
	child.Set("quantity", 3)
	child.IncrementRetries("name")
	require.NoError(t, wc.Push(child))
	wc.RecordTurn(wc.CreatedAt())
	return wc
}

func TestSerialization_RoundTrip(t *testing.T) {
	wc := sampleContext(t)

	data, err := domain.MarshalContext(wc)
	require.NoError(t, err)

	restored, err := domain.UnmarshalContext(data)
	require.NoError(t, err)

	assert.Equal(t, wc.SessionID(), restored.SessionID())
	assert.Equal(t, wc.UserID(), restored.UserID())
	assert.Equal(t, wc.Depth(), restored.Depth())
	assert.Equal(t, wc.Metadata(), restored.Metadata())
	assert.Equal(t, wc.History(), restored.History())

	top, ok := restored.Peek()
	require.True(t, ok)
	assert.Equal(t, "customer", top.Origin())
	assert.Equal(t, 1, top.Retries("name"))
	assert.Equal(t, json.Number("3"), top.Collected()["quantity"])

	parent, ok := restored.Parent()
	require.True(t, ok)
	assert.Equal(t, domain.EntityResolving, parent.Entity("customer").Status)
	assert.Equal(t, domain.PhaseAwaitingSubworkflow, parent.Phase())

	again, err := domain.MarshalContext(restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Equal(t, data, again)
}

func TestSerialization_Corruption(t *testing.T) {
	valid, err := domain.MarshalContext(sampleContext(t))
	require.NoError(t, err)

	mutate := func(fn func(map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal(valid, &m))
		fn(m)
		out, err := json.Marshal(m)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{not json")},
		{"wrong version", mutate(func(m map[string]any) { m["version"] = 99 })},
		{"missing session", mutate(func(m map[string]any) { delete(m, "session_id") })},
		{"too deep", mutate(func(m map[string]any) { m["max_depth"] = 1 })},
		{"unknown phase", mutate(func(m map[string]any) {
			stack := m["stack"].([]any)
			stack[1].(map[string]any)["phase"] = "dancing"
		})},
		{"duplicate non-reentrant", mutate(func(m map[string]any) {
			stack := m["stack"].([]any)
			stack[1].(map[string]any)["definition_id"] = "create_invoice"
		})},
		{"orphan child", mutate(func(m map[string]any) {
			stack := m["stack"].([]any)
			delete(stack[1].(map[string]any), "origin")
		})},
		{"parent not waiting", mutate(func(m map[string]any) {
			stack := m["stack"].([]any)
			stack[0].(map[string]any)["phase"] = "collecting"
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.UnmarshalContext(tt.data)
			assert.ErrorIs(t, err, domain.ErrContextCorrupted)
		})
	}
}

func TestSerialization_Revision(t *testing.T) {
	wc := sampleContext(t)
	assert.Zero(t, wc.Revision())

	data, err := domain.MarshalNext(wc)
	require.NoError(t, err)
	assert.Zero(t, wc.Revision(), "encoding the next revision leaves the context alone")

	rev, err := domain.RevisionOf(data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	loaded, err := domain.UnmarshalContext(data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Revision())

	assert.NoError(t, domain.CheckRevision(wc, 0, false))
	assert.ErrorIs(t, domain.CheckRevision(wc, 1, true), domain.ErrStaleContext)
	assert.NoError(t, domain.CheckRevision(loaded, 1, true))
	assert.ErrorIs(t, domain.CheckRevision(loaded, 1, false), domain.ErrStaleContext,
		"a record that expired or was deleted cannot be overwritten by an old context")

	_, err = domain.RevisionOf([]byte("{broken"))
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)
}
