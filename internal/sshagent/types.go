// Package sshagent implements an OpenSSH agent-protocol server whose key
// material arrives already unlocked from an external vault, and whose
// trust decisions are mediated per-connection by a user-facing arbiter
// rather than being granted unconditionally to any local process that
// can reach the socket.
package sshagent

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	cryptossh "golang.org/x/crypto/ssh"
)

// Common errors returned across the package.
var (
	ErrKeyNotFound        = errors.New("ssh key not found")
	ErrVaultLocked        = errors.New("vault is locked")
	ErrReadOnly           = errors.New("operation not supported by this agent")
	ErrDenied             = errors.New("request denied by user")
	ErrRequestTimedOut    = errors.New("request timed out")
	ErrSignatureAlgorithm = errors.New("unsupported or disallowed signature algorithm")
	ErrSocketExists       = errors.New("socket already exists")
	ErrNotSocket          = errors.New("path exists but is not a socket")
	ErrAlreadyStarted     = errors.New("agent already started")
	ErrAlreadyBound       = errors.New("connection is already bound to a different session")
	ErrBadSignature       = errors.New("session-bind signature verification failed")
)

// PublicKey wraps a cryptossh.PublicKey with the comment the key was
// registered under, giving a single value type to pass around the
// package instead of threading (blob, comment) pairs everywhere.
type PublicKey struct {
	Key     cryptossh.PublicKey
	Comment string
}

// Type returns the SSH key algorithm name (e.g. "ssh-ed25519").
func (p PublicKey) Type() string { return p.Key.Type() }

// Marshal returns the SSH wire-format public key blob.
func (p PublicKey) Marshal() []byte { return p.Key.Marshal() }

// Equal reports whether two public keys are the same key, ignoring
// comment.
func (p PublicKey) Equal(other PublicKey) bool {
	if p.Key == nil || other.Key == nil {
		return false
	}
	return bytes.Equal(p.Key.Marshal(), other.Key.Marshal())
}

// String renders the key in authorized_keys form: "<alg> <base64> <comment>".
func (p PublicKey) String() string {
	s := fmt.Sprintf("%s %s", p.Key.Type(), base64.StdEncoding.EncodeToString(p.Key.Marshal()))
	if p.Comment != "" {
		s += " " + p.Comment
	}
	return s
}

// UnlockedSshItem is one identity available for signing: a live signer
// plus the display name it was vault-sourced under and the vault's
// opaque identifier for the underlying cipher (item). CipherID is what
// disambiguates two identities that share a display name in an
// arbitration prompt; it carries no meaning outside the vault that
// issued it.
type UnlockedSshItem struct {
	Name     string
	CipherID string
	Signer   cryptossh.Signer
}

// Public returns the PublicKey view of this item.
func (i UnlockedSshItem) Public() PublicKey {
	return PublicKey{Key: i.Signer.PublicKey(), Comment: i.Name}
}

// LockedSshItem is the public-only metadata retained while the vault is
// locked: enough to answer "list identities" without any signing
// capability.
type LockedSshItem struct {
	Name     string
	CipherID string
	Public   PublicKey
}
