package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/adapters/file"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	ports.RunContextStoreContract(t, file.New(t.TempDir()))
}

func TestStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	wc := domain.NewContext("s1", "u1", 0)
	require.NoError(t, wc.Push(domain.NewFrame(domain.WorkflowDefinition{ID: "w", FinalAction: "w"}, nil)))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, "s1", wc, 0))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.json", entries[0].Name())
}

func TestStore_CorruptedFile(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	_, err := store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"context": {"stack": 3}}`), 0o644))
	_, err = store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)
}

func TestStore_ExpiredSessionIsNotFound(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	wc := domain.NewContext("s1", "", 0)
	require.NoError(t, wc.Push(domain.NewFrame(domain.WorkflowDefinition{ID: "w", FinalAction: "w"}, nil)))
	require.NoError(t, store.Save(ctx, "s1", wc, time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Load(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	_, err := store.Load(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)
}
