package process_test

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Find(t *testing.T) {
	skipOnWindows(t)

	runner := process.NewRunner()
	runner.Register("find_customer", "sh", "-c",
		`if [ "$ESPALIER_ARG_VALUE" = "known@acme.com" ]; then echo '{"id": "c-1"}'; fi`)
	runner.Register("find_broken", "sh", "-c", "exit 3")

	fallback := memory.NewEntities()
	productID := fallback.Add("product", memory.Record{"sku": "p1"})

	lookup := process.NewLookup(runner, fallback)
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		id, err := lookup.Find(ctx, "customer", "email", "known@acme.com")
		require.NoError(t, err)
		assert.Equal(t, "c-1", id)
	})

	t.Run("Empty Output Is Not Found", func(t *testing.T) {
		_, err := lookup.Find(ctx, "customer", "email", "new@acme.com")
		assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	})

	t.Run("Process Failure Is Not A Miss", func(t *testing.T) {
		_, err := lookup.Find(ctx, "broken", "x", "y")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrEntityNotFound)
	})

	t.Run("Falls Back Without A Process", func(t *testing.T) {
		id, err := lookup.Find(ctx, "product", "sku", "p1")
		require.NoError(t, err)
		assert.Equal(t, productID, id)
	})

	t.Run("No Fallback", func(t *testing.T) {
		_, err := process.NewLookup(runner, nil).Find(ctx, "product", "sku", "p1")
		assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	})
}
