package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"testing"

	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func secretContext(t *testing.T, sessionID, secret string) *domain.WorkflowContext {
	t.Helper()
	def := domain.WorkflowDefinition{
		ID:          "signup",
		FinalAction: "signup",
		Fields:      []domain.FieldSpec{{Name: "password", Required: true}, {Name: "name", Required: true}},
	}
	wc := domain.NewContext(sessionID, "u-1", 0)
	require.NoError(t, wc.Push(domain.NewFrame(def, map[string]any{"password": secret})))
	return wc
}

func secretOf(t *testing.T, wc *domain.WorkflowContext) any {
	t.Helper()
	top, ok := wc.Peek()
	require.True(t, ok)
	v, _ := top.Value("password")
	return v
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "test-session"

	require.NoError(t, secureStore.Save(ctx, sessionID, secretContext(t, sessionID, "my-secret-sauce"), 0))

	assert.NotContains(t, underlyingStore.Raw(sessionID), "my-secret-sauce")
	assert.NotContains(t, underlyingStore.Raw(sessionID), "signup", "workflow names are sealed too")

	envelope, err := underlyingStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, envelope.IsEmpty())
	assert.Equal(t, "u-1", envelope.UserID())

	loaded, err := secureStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Depth())
	assert.Equal(t, "my-secret-sauce", secretOf(t, loaded))

	ids, err := secureStore.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{sessionID}, ids)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	sessionID := "rotation-session"
	require.NoError(t, secureStoreOld.Save(ctx, sessionID, secretContext(t, sessionID, "old"), 0))

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, sessionID)
	require.NoError(t, err, "fallback key opens old contexts")
	assert.Equal(t, "old", secretOf(t, loaded))

	require.NoError(t, secureStoreNew.Save(ctx, sessionID, loaded, 0))

	_, err = secureStoreOld.Load(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrContextCorrupted, "re-saved context is sealed with the new key")
}

func TestEncryptionMiddleware_PlainContextIsCorrupted(t *testing.T) {
	underlyingStore := NewMockStore()
	ctx := context.Background()
	require.NoError(t, underlyingStore.Save(ctx, "plain", secretContext(t, "plain", "x"), 0))

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err := secureStore.Load(ctx, "plain")
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)

	_, err = secureStore.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}

func TestEncryptionMiddleware_StoreContract(t *testing.T) {
	store := middleware.Chain(memory.NewStore(),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
	)
	ports.RunContextStoreContract(t, store)
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)

	got, err := middleware.ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = middleware.ParseKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = middleware.ParseKey(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)
}
