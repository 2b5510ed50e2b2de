package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// envelopeKey is the metadata entry holding the sealed context.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a context.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.ContextStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals the whole context
// with AES-GCM. The inner store only sees an envelope: an empty stack with the
// ciphertext in its metadata.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.ContextStore) ports.ContextStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error {
	plainText, err := domain.MarshalContext(wc)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt context: %w", err)
	}

	// Only the session identity stays readable, for listing and ownership checks.
	envelope := domain.NewContext(wc.SessionID(), wc.UserID(), wc.MaxDepth())
	envelope.SetMetadata(envelopeKey, base64.StdEncoding.EncodeToString(ciphertext))
	envelope.SetRevision(wc.Revision())

	if err := m.next.Save(ctx, sessionID, envelope, ttl); err != nil {
		return err
	}
	wc.SetRevision(envelope.Revision())
	return nil
}

// Load opens the envelope. A context that is not an envelope or cannot be
// decrypted with any key is reported as corrupted.
func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	envelope, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelope.Metadata()[envelopeKey]
	if !ok || !envelope.IsEmpty() {
		return nil, fmt.Errorf("%w: context is missing the encrypted envelope", domain.ErrContextCorrupted)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode ciphertext: %v", domain.ErrContextCorrupted, err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContextCorrupted, err)
	}

	wc, err := domain.UnmarshalContext(plainText)
	if err != nil {
		return nil, err
	}
	// The envelope carries the authoritative revision.
	wc.SetRevision(envelope.Revision())
	return wc, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// ParseKey decodes a 32-byte key written as hex (64 chars) or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is neither hex nor base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	for _, key := range append([][]byte{activeKey}, fallbackKeys...) {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
