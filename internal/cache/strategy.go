package cache

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix marks encrypted values so that plaintext entries written before
// encryption was enabled are detected rather than fed to the AEAD.
const valuePrefix = "wx-enc:"

// EncryptionStrategy controls how serialized values are protected at rest in a
// remote store. Storage keys are never decorated: the prefix:module:resource
// layout must stay enumerable by every process sharing the store.
type EncryptionStrategy interface {
	// EncryptValue encrypts serialized bytes for storage. The storage key is
	// bound to the ciphertext as associated data.
	EncryptValue(value []byte, storageKey string) (string, error)

	// DecryptValue reverses EncryptValue. The storage key must match.
	DecryptValue(stored string, storageKey string) ([]byte, error)

	// Close releases resources held by the strategy.
	Close() error
}

// NoEncryptionStrategy stores serialized values as-is.
type NoEncryptionStrategy struct{}

func (NoEncryptionStrategy) EncryptValue(value []byte, _ string) (string, error) {
	return string(value), nil
}

func (NoEncryptionStrategy) DecryptValue(stored string, _ string) ([]byte, error) {
	return []byte(stored), nil
}

func (NoEncryptionStrategy) Close() error {
	return nil
}

// TinkEncryptionStrategy encrypts values with a Tink AEAD primitive, using the
// storage key as associated data so that a ciphertext copied to another key
// fails to decrypt.
type TinkEncryptionStrategy struct {
	aead tink.AEAD
}

func NewTinkEncryptionStrategy(aead tink.AEAD) *TinkEncryptionStrategy {
	return &TinkEncryptionStrategy{aead: aead}
}

func (s *TinkEncryptionStrategy) EncryptValue(value []byte, storageKey string) (string, error) {
	ciphertext, err := s.aead.Encrypt(value, []byte(storageKey))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return valuePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *TinkEncryptionStrategy) DecryptValue(stored string, storageKey string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(stored, valuePrefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := s.aead.Decrypt(decoded, []byte(storageKey))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *TinkEncryptionStrategy) Close() error {
	if closer, ok := s.aead.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
