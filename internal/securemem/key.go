package securemem

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const keySlot = "key"

// SecureEncryptionKey is an ephemeral AEAD key held exclusively inside a
// Backend slot. Encrypt and Decrypt re-read the key from the backend and
// zeroize their local copy once the AEAD cipher is constructed. The one
// exception is ExportForWrap, which hands its copy to the caller to wrap
// and zeroize.
type SecureEncryptionKey struct {
	backend Backend
}

// GenerateSecureEncryptionKey creates a new random key in a fresh
// Backend of the strongest isolation this platform supports.
func GenerateSecureEncryptionKey() (*SecureEncryptionKey, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("securemem: generating key material: %w", err)
	}
	defer zero(raw)
	return NewSecureEncryptionKeyFromBytes(raw)
}

// NewSecureEncryptionKeyFromBytes wraps existing key material (e.g. a key
// unwrapped by biometric unlock) in a fresh hardened Backend. The caller's
// slice is not retained.
func NewSecureEncryptionKeyFromBytes(raw []byte) (*SecureEncryptionKey, error) {
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("securemem: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	backend, err := New()
	if err != nil {
		return nil, err
	}
	if err := backend.Put(keySlot, raw); err != nil {
		return nil, fmt.Errorf("securemem: storing key: %w", err)
	}
	return &SecureEncryptionKey{backend: backend}, nil
}

// Encrypt seals plaintext with a fresh random 24-byte nonce and the
// supplied additional data, returning nonce||ciphertext.
func (k *SecureEncryptionKey) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("securemem: generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

// Decrypt opens data produced by Encrypt. Any authentication failure
// (tampering, wrong key, wrong additional data) is reported as a single
// opaque error; this module never distinguishes the reason to a caller.
func (k *SecureEncryptionKey) Decrypt(data, additionalData []byte) ([]byte, error) {
	if len(data) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("securemem: ciphertext too short")
	}
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := data[:chacha20poly1305.NonceSizeX]
	ciphertext := data[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("securemem: decryption failed")
	}
	return plaintext, nil
}

// ExportForWrap returns a fresh owned copy of the raw key bytes so the
// biometric subsystem can wrap them for persistence. Callers must zeroize
// the returned slice as soon as the wrap operation completes.
func (k *SecureEncryptionKey) ExportForWrap() ([]byte, error) {
	raw, ok := k.backend.Get(keySlot)
	if !ok {
		return nil, fmt.Errorf("securemem: key not present")
	}
	return raw, nil
}

func (k *SecureEncryptionKey) aead() (cipher.AEAD, error) {
	raw, ok := k.backend.Get(keySlot)
	if !ok {
		return nil, fmt.Errorf("securemem: key not present")
	}
	defer zero(raw)
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, fmt.Errorf("securemem: constructing AEAD: %w", err)
	}
	return aead, nil
}

// Close zeroizes and releases the backend holding this key.
func (k *SecureEncryptionKey) Close() error {
	return k.backend.Close()
}

// Variant reports which isolation strategy backs this key, for logging.
func (k *SecureEncryptionKey) Variant() string {
	return k.backend.Variant()
}
