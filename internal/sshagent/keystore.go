package sshagent

import (
	"bytes"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"
)

// KeyStore is a two-state container for the agent's identities: Locked
// holds only public metadata, Unlocked holds live signers. The only
// transitions are SetUnlocked (vault produced keys) and Lock (vault
// re-locked, or explicit ssh-add -x); there is no partial state.
type KeyStore struct {
	mu       sync.Mutex
	locked   bool
	lockedKs []LockedSshItem
	unlocked []UnlockedSshItem
}

// NewKeyStore returns a KeyStore starting in the locked state with the
// given public-only metadata (possibly empty, if nothing is known yet).
func NewKeyStore(initial []LockedSshItem) *KeyStore {
	return &KeyStore{locked: true, lockedKs: initial}
}

// SetUnlocked transitions the store to the unlocked state with the given
// live identities, replacing whatever was previously cached.
func (k *KeyStore) SetUnlocked(items []UnlockedSshItem) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.locked = false
	k.unlocked = items

	locked := make([]LockedSshItem, 0, len(items))
	for _, it := range items {
		locked = append(locked, LockedSshItem{Name: it.Name, CipherID: it.CipherID, Public: it.Public()})
	}
	k.lockedKs = locked
}

// Lock transitions the store back to the locked state, discarding all
// live signers but retaining the public metadata collected while
// unlocked so identities can still be listed.
func (k *KeyStore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.locked = true
	k.unlocked = nil
}

// IsLocked reports the current state.
func (k *KeyStore) IsLocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.locked
}

// ListPublic returns public metadata for every known identity. This
// works in both states: listing identities never requires the vault to
// be unlocked.
func (k *KeyStore) ListPublic() []LockedSshItem {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]LockedSshItem, len(k.lockedKs))
	copy(out, k.lockedKs)
	return out
}

// FindSigner returns the live signer for pub. It fails with ErrVaultLocked
// if the store is locked, and ErrKeyNotFound if no identity matches.
func (k *KeyStore) FindSigner(pub cryptossh.PublicKey) (cryptossh.Signer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked {
		return nil, ErrVaultLocked
	}
	target := pub.Marshal()
	for _, item := range k.unlocked {
		if bytes.Equal(item.Signer.PublicKey().Marshal(), target) {
			return item.Signer, nil
		}
	}
	return nil, ErrKeyNotFound
}

// FindLocked returns the locked (public-only) metadata for pub, whether
// or not the store is currently unlocked. Callers that must arbitrate a
// signing request even while the vault is locked use this to confirm
// the key is known at all before asking the front-end, since the vault
// may unlock as a side effect of the arbitration itself.
func (k *KeyStore) FindLocked(pub cryptossh.PublicKey) (LockedSshItem, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	target := pub.Marshal()
	for _, item := range k.lockedKs {
		if bytes.Equal(item.Public.Marshal(), target) {
			return item, nil
		}
	}
	return LockedSshItem{}, ErrKeyNotFound
}

// Signers returns every live signer. It fails with ErrVaultLocked if the
// store is locked.
func (k *KeyStore) Signers() ([]cryptossh.Signer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked {
		return nil, ErrVaultLocked
	}
	out := make([]cryptossh.Signer, 0, len(k.unlocked))
	for _, item := range k.unlocked {
		out = append(out, item.Signer)
	}
	return out, nil
}

// Comment returns the registered display name for pub, if known, in
// either state.
func (k *KeyStore) Comment(pub cryptossh.PublicKey) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	target := pub.Marshal()
	for _, item := range k.lockedKs {
		if bytes.Equal(item.Public.Marshal(), target) {
			return item.Name, true
		}
	}
	return "", false
}
