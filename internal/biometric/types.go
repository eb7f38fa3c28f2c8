// Package biometric implements the two biometric-unlock paths for the
// vault's in-memory encryption key: a session-resident path, which only
// gates release of a key already held in hardened memory behind a
// platform prompt, and a persistent path, which wraps the key under an
// OS-identity-derived key so it can survive a process restart.
//
// Threat model: the session-resident path defends against another
// process reading this process's memory, but not against a spoofed
// prompt running as the same user. The persistent path's stored
// challenge is readable by any process running as that user, so a
// convincing spoofed prompt can derive the wrapping key on its own; this
// is an accepted risk, not a defect, matching the upstream design this
// module is based on. The vault key itself must never leave hardened
// memory except as a short-lived owned copy used to wrap or unwrap it.
package biometric

import (
	"context"
	"encoding/json"
	"fmt"
)

// KeychainEntry is the persisted record for one enrolled user, stored as
// JSON in the OS credential store under service ServiceName, account
// <user id>.
type KeychainEntry struct {
	Nonce      [24]byte `json:"nonce"`
	Challenge  [16]byte `json:"challenge"`
	WrappedKey []byte   `json:"wrapped_key"`
}

// ServiceName is the credential-store service name under which
// KeychainEntry values are stored.
const ServiceName = "BitwardenBiometricsV2"

func (e KeychainEntry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(blob []byte) (KeychainEntry, error) {
	var e KeychainEntry
	if err := json.Unmarshal(blob, &e); err != nil {
		return KeychainEntry{}, fmt.Errorf("biometric: decoding keychain entry: %w", err)
	}
	return e, nil
}

// IdentityProvider signs a fixed-size challenge with a key tied to the
// local OS identity (a secure-enclave key, a TPM-backed key, or — in this
// module's stand-in implementation — a locally persisted Ed25519 key).
// Sign must be deterministic: the same (key, message) pair always
// produces the same signature, since the persistent-unlock path derives
// its wrapping key from the signature and must reproduce it later without
// storing the wrapping key itself.
type IdentityProvider interface {
	// Authenticate gates the operation behind whatever platform prompt is
	// available (Windows Hello, a PolicyKit dialog, a Touch ID sheet). It
	// returns nil only if the user approved; any other outcome, including
	// "no prompt mechanism available", is an error.
	Authenticate(ctx context.Context, reason string) error
	// Sign deterministically signs message with the identity key,
	// generating the key on first use if it does not yet exist.
	Sign(ctx context.Context, message []byte) ([]byte, error)
	// PromptAvailable reports whether the underlying platform prompt
	// mechanism is present at all, independent of whether a given
	// Authenticate call would succeed.
	PromptAvailable(ctx context.Context) bool
}
