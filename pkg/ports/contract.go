package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContextStoreContract runs a suite of tests to verify that a ContextStore implementation
// adheres to the defined interface contract.
func RunContextStoreContract(t *testing.T, store ContextStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	newContext := func(id string) *domain.WorkflowContext {
		def := domain.WorkflowDefinition{
			ID:          "contract",
			FinalAction: "noop",
			Fields:      []domain.FieldSpec{{Name: "name", Required: true}, {Name: "count", Required: true}},
		}
		wc := domain.NewContext(id, "contract-user", 0)
		f := domain.NewFrame(def, map[string]any{"name": "bar", "count": 42})
		require.NoError(t, wc.Push(f))
		return wc
	}

	t.Run("Save and Load", func(t *testing.T) {
		wc := newContext(sessionID)

		err := store.Save(ctx, sessionID, wc, 0)
		require.NoError(t, err, "Save should not return error")
		assert.Equal(t, int64(1), wc.Revision(), "Save advances the caller's revision")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, sessionID, loaded.SessionID())
		assert.Equal(t, "contract-user", loaded.UserID())
		require.Equal(t, 1, loaded.Depth())

		top, _ := loaded.Peek()
		orig, _ := wc.Peek()
		assert.Equal(t, orig.ID(), top.ID())
		name, _ := top.Value("name")
		assert.Equal(t, "bar", name)
		count, _ := top.Value("count")
		assert.Equal(t, json.Number("42"), count, "numbers must survive as json.Number")
		assert.Equal(t, int64(1), loaded.Revision())
	})

	t.Run("Saved context is detached", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID))
		wc := newContext(sessionID)
		require.NoError(t, store.Save(ctx, sessionID, wc, 0))

		f, _ := wc.Peek()
		f.Set("name", "mutated-after-save")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		top, _ := loaded.Peek()
		name, _ := top.Value("name")
		assert.Equal(t, "bar", name)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Stale save is rejected", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID))
		require.NoError(t, store.Save(ctx, sessionID, newContext(sessionID), 0))

		first, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		second, err := store.Load(ctx, sessionID)
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, sessionID, first, 0))
		err = store.Save(ctx, sessionID, second, 0)
		assert.ErrorIs(t, err, domain.ErrStaleContext, "second writer loaded an older revision")

		err = store.Save(ctx, sessionID, newContext(sessionID), 0)
		assert.ErrorIs(t, err, domain.ErrStaleContext, "a fresh context cannot replace a live one")

		require.NoError(t, store.Save(ctx, sessionID, first, 0), "the winner keeps saving")

		require.NoError(t, store.Delete(ctx, sessionID))
		err = store.Save(ctx, sessionID, first, 0)
		assert.ErrorIs(t, err, domain.ErrStaleContext, "a deleted session is not resurrected")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID))
		err := store.Save(ctx, sessionID, newContext(sessionID), 0)
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Delete of a missing session is a no-op")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, newContext(id1), 0)
		_ = store.Save(ctx, id2, newContext(id2), time.Hour)

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
