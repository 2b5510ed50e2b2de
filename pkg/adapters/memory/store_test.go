package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunContextStoreContract(t, store)
}

func TestMemoryStore_TTL(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	wc := domain.NewContext("short", "", 0)
	require.NoError(t, wc.Push(domain.NewFrame(domain.WorkflowDefinition{ID: "w", FinalAction: "a"}, nil)))
	require.NoError(t, store.Save(ctx, "short", wc, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "short")
}

func TestMemoryStore_Corrupted(t *testing.T) {
	store := memory.NewStore()
	store.Put("bad", []byte(`{"version":1,"session_id":"bad","max_depth":0}`))

	_, err := store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)
}

func TestEntities_FindAndCreate(t *testing.T) {
	entities := memory.NewEntities()
	ctx := context.Background()
	entities.Add("customer", memory.Record{"id": "c-1", "email": "Ana@Example.com"})

	id, err := entities.Find(ctx, "customer", "email", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)

	_, err = entities.Find(ctx, "customer", "email", "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	create := entities.CreateAction("customer")
	res, err := create(ctx, map[string]any{"email": "new@example.com", "name": "New"})
	require.NoError(t, err)
	assert.Equal(t, "customer-1", res["id"])

	id, err = entities.Find(ctx, "customer", "email", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "customer-1", id)
	assert.Equal(t, 2, entities.Count("customer"))
}

func TestAuditLog_Trail(t *testing.T) {
	audit := memory.NewAuditLog()
	ctx := context.Background()
	require.NoError(t, audit.Append(ctx, domain.AuditRecord{SessionID: "s1", Workflow: "a"}))
	require.NoError(t, audit.Append(ctx, domain.AuditRecord{SessionID: "s2", Workflow: "b"}))

	trail, err := audit.Trail(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "a", trail[0].Workflow)
}
