package biometric

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joe/vaultagent/internal/credstore"
	"github.com/joe/vaultagent/internal/securemem"
)

// Lock coordinates biometric gating of the vault encryption key for each
// user ID, across both the session-resident and persistent unlock paths.
type Lock struct {
	store    credstore.Store
	identity IdentityProvider

	mu       sync.Mutex
	resident map[string]*securemem.SecureEncryptionKey
}

// New constructs a Lock. store is where persistent KeychainEntry values
// live; identity supplies both the user-facing authentication prompt and
// the deterministic signing key used to derive wrapping keys.
func New(store credstore.Store, identity IdentityProvider) *Lock {
	return &Lock{store: store, identity: identity, resident: make(map[string]*securemem.SecureEncryptionKey)}
}

// AuthenticateAvailable reports whether the OS identity prompt mechanism
// is available at all on this platform, independent of any particular
// user's enrollment state.
func (l *Lock) AuthenticateAvailable(ctx context.Context) bool {
	return l.identity.PromptAvailable(ctx)
}

// Authenticate shows the OS identity prompt with message and reports the
// user's yes/no decision. windowHandle is accepted for parity with
// platforms (Windows Hello) that target a specific host window; this
// module's Windows authenticator binds its window handle at construction
// rather than per call, so it is otherwise unused here.
func (l *Lock) Authenticate(ctx context.Context, windowHandle uintptr, message string) (bool, error) {
	if err := l.identity.Authenticate(ctx, message); err != nil {
		return false, nil
	}
	return true, nil
}

// ProvideKey deposits key as the resident unlock key for userID. It is
// called when the vault transitions to unlocked so a later Unlock call
// can release a fresh copy of it after a prompt, without re-running the
// persistent unwrap path.
func (l *Lock) ProvideKey(userID string, key *securemem.SecureEncryptionKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resident[userID] = key
}

// UnlockSessionResident gates release of a vault key that is already
// held in hardened memory behind a platform prompt. No wrapping key is
// involved: the key was never serialized to begin with.
func (l *Lock) UnlockSessionResident(ctx context.Context, reason string) error {
	if err := l.identity.Authenticate(ctx, reason); err != nil {
		return fmt.Errorf("biometric: authentication failed: %w", err)
	}
	return nil
}

// EnrollPersistent wraps key's raw material under a freshly derived
// identity-bound key and stores the result in the credential store under
// userID. The plaintext returned by key.ExportForWrap is zeroized before
// this function returns.
func (l *Lock) EnrollPersistent(ctx context.Context, userID string, key *securemem.SecureEncryptionKey) error {
	if err := l.identity.Authenticate(ctx, "enroll biometric unlock"); err != nil {
		return fmt.Errorf("biometric: authentication failed: %w", err)
	}

	var challenge [16]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return fmt.Errorf("biometric: generating challenge: %w", err)
	}

	wrapKey, err := l.deriveWrapKey(ctx, challenge)
	if err != nil {
		return err
	}
	defer zero(wrapKey)

	raw, err := key.ExportForWrap()
	if err != nil {
		return fmt.Errorf("biometric: exporting vault key: %w", err)
	}
	defer zero(raw)

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return fmt.Errorf("biometric: constructing wrap cipher: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("biometric: generating nonce: %w", err)
	}
	wrapped := aead.Seal(nil, nonce[:], raw, []byte(userID))

	entry := KeychainEntry{Nonce: nonce, Challenge: challenge, WrappedKey: wrapped}
	blob, err := entry.marshal()
	if err != nil {
		return err
	}
	if err := l.store.Set(ServiceName, userID, blob); err != nil {
		return fmt.Errorf("biometric: persisting keychain entry: %w", err)
	}
	return nil
}

// UnlockPersistent re-derives the wrapping key for userID and unwraps the
// stored vault key, returning a SecureEncryptionKey backed by a fresh
// hardened-memory allocation.
func (l *Lock) UnlockPersistent(ctx context.Context, userID string) (*securemem.SecureEncryptionKey, error) {
	blob, err := l.store.Get(ServiceName, userID)
	if err != nil {
		if err == credstore.ErrNotFound {
			return nil, fmt.Errorf("biometric: no enrollment for %q", userID)
		}
		return nil, fmt.Errorf("biometric: reading keychain entry: %w", err)
	}
	entry, err := unmarshalEntry(blob)
	if err != nil {
		return nil, err
	}

	if err := l.identity.Authenticate(ctx, "unlock vault"); err != nil {
		return nil, fmt.Errorf("biometric: authentication failed: %w", err)
	}

	wrapKey, err := l.deriveWrapKey(ctx, entry.Challenge)
	if err != nil {
		return nil, err
	}
	defer zero(wrapKey)

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("biometric: constructing unwrap cipher: %w", err)
	}
	raw, err := aead.Open(nil, entry.Nonce[:], entry.WrappedKey, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("biometric: unwrap failed, entry may be tampered or stale")
	}
	defer zero(raw)

	return securemem.NewSecureEncryptionKeyFromBytes(raw)
}

// HasPersistent reports whether userID has a persistent keychain entry
// enrolled.
func (l *Lock) HasPersistent(userID string) bool {
	_, err := l.store.Get(ServiceName, userID)
	return err == nil
}

// UnlockAvailable reports whether some unlock path exists for userID (a
// resident key or a persistent enrollment) and the prompt mechanism
// needed to release it is available.
func (l *Lock) UnlockAvailable(ctx context.Context, userID string) bool {
	if !l.identity.PromptAvailable(ctx) {
		return false
	}
	l.mu.Lock()
	_, hasResident := l.resident[userID]
	l.mu.Unlock()
	return hasResident || l.HasPersistent(userID)
}

// Unlock implements the combined unlock path: if userID's key is already
// present in secure memory (via ProvideKey), it shows an authentication
// prompt and, on success, returns a fresh copy of the resident key. If no
// resident key is present but a persistent enrollment exists, it falls
// back to the persistent unwrap path. windowHandle is accepted for
// platform parity; see Authenticate's doc comment. The Lock's mutex is
// held for the whole call, prompt included, so concurrent Unlock calls
// are serialized.
func (l *Lock) Unlock(ctx context.Context, userID string, windowHandle uintptr) (*securemem.SecureEncryptionKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.resident[userID]

	if ok {
		if err := l.UnlockSessionResident(ctx, "unlock vault"); err != nil {
			return nil, err
		}
		raw, err := key.ExportForWrap()
		if err != nil {
			return nil, fmt.Errorf("biometric: copying resident key: %w", err)
		}
		defer zero(raw)
		return securemem.NewSecureEncryptionKeyFromBytes(raw)
	}

	if l.HasPersistent(userID) {
		return l.UnlockPersistent(ctx, userID)
	}

	return nil, fmt.Errorf("biometric: no resident key or persistent enrollment for %q", userID)
}

// Unenroll removes the persisted keychain entry and any resident key for
// userID. This is the only supported way to rotate the persistent-unlock
// wrapping key: there is no periodic challenge rotation.
func (l *Lock) Unenroll(userID string) error {
	l.mu.Lock()
	delete(l.resident, userID)
	l.mu.Unlock()
	if err := l.store.Delete(ServiceName, userID); err != nil {
		return fmt.Errorf("biometric: removing keychain entry: %w", err)
	}
	return nil
}

// deriveWrapKey computes SHA-256(signature) where signature is the
// identity key's deterministic signature over challenge. Because signing
// is deterministic, this reproduces the same wrap key on every call for
// a fixed (identity key, challenge) pair without ever persisting the
// wrap key itself.
func (l *Lock) deriveWrapKey(ctx context.Context, challenge [16]byte) ([]byte, error) {
	sig, err := l.identity.Sign(ctx, challenge[:])
	if err != nil {
		return nil, fmt.Errorf("biometric: signing challenge: %w", err)
	}
	sum := sha256.Sum256(sig)
	return sum[:], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
