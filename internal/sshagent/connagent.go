package sshagent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/joe/vaultagent/internal/logging"
)

// ConnAgent implements agent.ExtendedAgent for a single accepted
// connection, threading that connection's ConnectionSession through
// every call so session-bind state and UI arbitration are scoped to the
// connection rather than shared process-wide.
type ConnAgent struct {
	store      *KeyStore
	arbiter    *UiArbiter
	knownHosts *KnownHostsReader
	session    *ConnectionSession
}

// NewConnAgent builds a ConnAgent bound to session, backed by the shared
// store, arbiter, and known_hosts reader.
func NewConnAgent(store *KeyStore, arbiter *UiArbiter, knownHosts *KnownHostsReader, session *ConnectionSession) *ConnAgent {
	return &ConnAgent{store: store, arbiter: arbiter, knownHosts: knownHosts, session: session}
}

// List returns the identities known to the agent, gated by the UI
// arbiter's request_list decision. This succeeds whether or not the
// vault is currently unlocked: only signing requires an unlocked vault.
// A denial yields no IdentitiesAnswer at all, matching invariant P4.
func (c *ConnAgent) List() ([]*agent.Key, error) {
	req := Request{
		ConnectionID: c.session.ID,
		Peer:         c.session.Peer,
		Action:       "list",
	}
	if err := c.arbiter.Request(context.Background(), req); err != nil {
		return nil, err
	}

	items := c.store.ListPublic()
	keys := make([]*agent.Key, 0, len(items))
	for _, item := range items {
		keys = append(keys, &agent.Key{
			Format:  item.Public.Type(),
			Blob:    item.Public.Marshal(),
			Comment: item.Name,
		})
	}
	return keys, nil
}

// Sign implements agent.Agent.Sign as an unflagged SignWithFlags call.
func (c *ConnAgent) Sign(key cryptossh.PublicKey, data []byte) (*cryptossh.Signature, error) {
	return c.SignWithFlags(key, data, 0)
}

// SignWithFlags looks up the requested identity's public metadata (even
// while the vault is locked), gates the operation through the UI
// arbiter — which is responsible for triggering unlock if needed — and
// only then re-checks whether a live signer is actually available. An
// RSA key signed with flags == 0 is rejected outright rather than
// silently defaulting to ssh-rsa/SHA-1: callers must explicitly request
// rsa-sha2-256 or rsa-sha2-512.
func (c *ConnAgent) SignWithFlags(key cryptossh.PublicKey, data []byte, flags agent.SignatureFlags) (*cryptossh.Signature, error) {
	locked, err := c.store.FindLocked(key)
	if err != nil {
		return nil, err
	}

	var algo string
	switch {
	case flags&agent.SignatureFlagRsaSha256 != 0:
		algo = cryptossh.KeyAlgoRSASHA256
	case flags&agent.SignatureFlagRsaSha512 != 0:
		algo = cryptossh.KeyAlgoRSASHA512
	case key.Type() == cryptossh.KeyAlgoRSA:
		return nil, fmt.Errorf("%w: RSA signatures require an explicit rsa-sha2-256/512 flag", ErrSignatureAlgorithm)
	}

	req := Request{
		ConnectionID: c.session.ID,
		Peer:         c.session.Peer,
		Action:       "sign",
		KeyComment:   locked.Name,
		CipherID:     locked.CipherID,
		Namespace:    parseSSHSIGNamespace(data),
	}
	if err := c.arbiter.Request(context.Background(), req); err != nil {
		return nil, err
	}

	signer, err := c.store.FindSigner(key)
	if err != nil {
		return nil, err
	}

	if algo != "" {
		if algSigner, ok := signer.(cryptossh.AlgorithmSigner); ok {
			return algSigner.SignWithAlgorithm(rand.Reader, data, algo)
		}
	}
	return signer.Sign(rand.Reader, data)
}

// Add is not supported: identities are sourced from the vault, not from
// ssh-add invocations against this agent.
func (c *ConnAgent) Add(key agent.AddedKey) error {
	return ErrReadOnly
}

// Remove is not supported for the same reason as Add.
func (c *ConnAgent) Remove(key cryptossh.PublicKey) error {
	return ErrReadOnly
}

// RemoveAll is not supported for the same reason as Add.
func (c *ConnAgent) RemoveAll() error {
	return ErrReadOnly
}

// Lock locks the key store, matching ssh-add -x. The passphrase argument
// is ignored: this agent uses vault-level locking, not a local
// passphrase.
func (c *ConnAgent) Lock(passphrase []byte) error {
	c.store.Lock()
	return nil
}

// Unlock is not supported through the agent protocol. Unlocking happens
// out of band, through the vault/biometric unlock flow, not via
// ssh-add -X.
func (c *ConnAgent) Unlock(passphrase []byte) error {
	return ErrReadOnly
}

// Signers returns every live signer, failing if the vault is locked.
func (c *ConnAgent) Signers() ([]cryptossh.Signer, error) {
	return c.store.Signers()
}

// Extension handles session-bind@openssh.com; all other extension types
// are reported unsupported.
func (c *ConnAgent) Extension(extensionType string, contents []byte) ([]byte, error) {
	if extensionType != "session-bind@openssh.com" {
		return nil, agent.ErrExtensionUnsupported
	}
	return nil, c.handleSessionBind(contents)
}

// handleSessionBind parses and verifies a session-bind@openssh.com
// request: hostkey blob, session identifier, signature, and a trailing
// is-forwarding flag, all length-prefixed per the SSH wire format. On a
// successful bind it resolves the host key against known_hosts and
// stores the result, along with is-forwarding, on the connection.
func (c *ConnAgent) handleSessionBind(contents []byte) error {
	hostKeyBlob, rest, err := readString(contents)
	if err != nil {
		return err
	}
	sessionID, rest, err := readString(rest)
	if err != nil {
		return err
	}
	sigBlob, rest, err := readString(rest)
	if err != nil {
		return err
	}
	var isForwarding bool
	if len(rest) > 0 {
		isForwarding = rest[0] != 0
	}

	hostKey, err := cryptossh.ParsePublicKey(hostKeyBlob)
	if err != nil {
		return fmt.Errorf("sshagent: parsing session-bind host key: %w", err)
	}
	var sig cryptossh.Signature
	if err := cryptossh.Unmarshal(sigBlob, &sig); err != nil {
		return fmt.Errorf("sshagent: parsing session-bind signature: %w", err)
	}

	if err := verifySessionBindSignature(hostKey, sessionID, &sig); err != nil {
		logging.L.With("component", "ssh-agent").Warn("session-bind signature verification failed",
			"connection", c.session.ID)
		return err
	}

	var hostName string
	if c.knownHosts != nil {
		hostName, _ = c.knownHosts.FindHost(hostKey)
	}

	return c.session.Bind(hostKeyBlob, sessionID, hostName, isForwarding)
}

// readString reads one uint32-length-prefixed field from the front of b,
// returning the field and the remainder.
func readString(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("sshagent: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint64(4+n) > uint64(len(b)) {
		return nil, nil, fmt.Errorf("sshagent: truncated field")
	}
	return b[4 : 4+n], b[4+n:], nil
}

// sshsigMagic is the fixed preamble of an SSHSIG signing payload, as
// produced by `ssh-keygen -Y sign` and consumed by `ssh-keygen -Y verify`.
var sshsigMagic = []byte("SSHSIG")

// parseSSHSIGNamespace best-effort extracts the namespace string from an
// SSHSIG-structured signing payload (magic, u32 version, NUL-terminated
// namespace). It returns "" if data does not look like an SSHSIG
// payload; this is purely cosmetic, used to make arbitration prompts
// more informative, and never gates the signing decision itself.
func parseSSHSIGNamespace(data []byte) string {
	if !bytes.HasPrefix(data, sshsigMagic) {
		return ""
	}
	rest := data[len(sshsigMagic):]
	if len(rest) < 4 {
		return ""
	}
	rest = rest[4:] // version
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return ""
	}
	return string(rest[:nul])
}

var _ agent.ExtendedAgent = (*ConnAgent)(nil)
