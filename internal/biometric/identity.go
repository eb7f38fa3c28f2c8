package biometric

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/joe/vaultagent/internal/credstore"
)

const identityServiceName = "BitwardenBiometricsIdentityV2"

// localIdentityKey is the Ed25519-backed stand-in for a hardware-rooted
// identity key. Ed25519 signatures are deterministic per RFC 8032, which
// is exactly the property the persistent-unlock key derivation needs;
// no platform in this module's scope exposes a deterministic-signing
// secure-enclave API directly to Go, so the key itself is generated here
// and persisted through the same credential store used for the wrapped
// vault keys, under a separate service name.
type localIdentityKey struct {
	store   credstore.Store
	prompt  Authenticator
	account string
}

// Authenticator performs the platform-specific "is this really the user"
// gate. It is a separate interface from IdentityProvider so that a
// caller which only wants the deterministic-signing behavior (e.g. unit
// tests) is not forced to also have a working prompt backend.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) error
	// Available reports whether a prompt mechanism exists on this platform
	// at all, independent of whether a given Authenticate call would
	// succeed. A platform with no biometric bridge wired up returns false.
	Available(ctx context.Context) bool
}

// NewLocalIdentityProvider constructs an IdentityProvider for the given
// account, using store for persistence and prompt for the user-facing
// authentication gate.
func NewLocalIdentityProvider(store credstore.Store, prompt Authenticator, account string) IdentityProvider {
	return &localIdentityKey{store: store, prompt: prompt, account: account}
}

func (k *localIdentityKey) Authenticate(ctx context.Context, reason string) error {
	return k.prompt.Authenticate(ctx, reason)
}

func (k *localIdentityKey) PromptAvailable(ctx context.Context) bool {
	return k.prompt.Available(ctx)
}

func (k *localIdentityKey) Sign(ctx context.Context, message []byte) ([]byte, error) {
	priv, err := k.loadOrCreate()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, message), nil
}

func (k *localIdentityKey) loadOrCreate() (ed25519.PrivateKey, error) {
	blob, err := k.store.Get(identityServiceName, k.account)
	if err == nil {
		if len(blob) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("biometric: stored identity key has wrong size")
		}
		return ed25519.PrivateKey(blob), nil
	}
	if err != credstore.ErrNotFound {
		return nil, fmt.Errorf("biometric: reading identity key: %w", err)
	}

	_, priv, genErr := ed25519.GenerateKey(rand.Reader)
	if genErr != nil {
		return nil, fmt.Errorf("biometric: generating identity key: %w", genErr)
	}
	if err := k.store.Set(identityServiceName, k.account, priv); err != nil {
		return nil, fmt.Errorf("biometric: persisting identity key: %w", err)
	}
	return priv, nil
}
