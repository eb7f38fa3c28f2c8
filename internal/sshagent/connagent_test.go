package sshagent

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// serveTestAgent wires a ConnAgent to one end of an in-memory pipe and
// returns an agent.ExtendedAgent client talking to the other end, along
// with the session it is driving.
func serveTestAgent(t *testing.T, store *KeyStore, arbiter *UiArbiter) (agent.ExtendedAgent, *ConnectionSession) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	session := NewConnectionSession(PeerInfo{PID: 4242, ProcessName: "ssh"})
	connAgent := NewConnAgent(store, arbiter, NewKnownHostsReader(""), session)

	go agent.ServeAgent(connAgent, serverConn)
	t.Cleanup(func() { clientConn.Close() })

	return agent.NewClient(clientConn), session
}

func allowAllArbiter() *UiArbiter {
	outbound := make(chan Request, 8)
	arbiter := NewUiArbiter(outbound, time.Second)
	go func() {
		for req := range outbound {
			arbiter.Respond(req.ID, DecisionAllow)
		}
	}()
	return arbiter
}

// capturingArbiter allows every request but records each one for later
// inspection by the test.
type capturingArbiter struct {
	*UiArbiter
	seen chan Request
}

func newCapturingArbiter() *capturingArbiter {
	outbound := make(chan Request, 8)
	seen := make(chan Request, 8)
	arbiter := NewUiArbiter(outbound, time.Second)
	go func() {
		for req := range outbound {
			seen <- req
			arbiter.Respond(req.ID, DecisionAllow)
		}
	}()
	return &capturingArbiter{UiArbiter: arbiter, seen: seen}
}

func TestScenarioListDeniedByArbiter(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})

	outbound := make(chan Request, 1)
	arbiter := NewUiArbiter(outbound, time.Second)
	go func() {
		req := <-outbound
		arbiter.Respond(req.ID, DecisionDeny)
	}()

	client, _ := serveTestAgent(t, store, arbiter)

	if _, err := client.List(); err == nil {
		t.Fatalf("expected List to fail when arbiter denies")
	}
}

func TestScenarioSignRequestCarriesCipherID(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", CipherID: "cipher-abc", Signer: signer}})

	arbiter := newCapturingArbiter()
	client, _ := serveTestAgent(t, store, arbiter.UiArbiter)

	if _, err := client.Sign(signer.PublicKey(), []byte("data")); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := <-arbiter.seen
	if req.Action != "sign" || req.CipherID != "cipher-abc" || req.KeyComment != "laptop" {
		t.Fatalf("arbitration request = %+v, want Action=sign CipherID=cipher-abc KeyComment=laptop", req)
	}
}

func TestScenarioSignArbitratesEvenWhileLocked(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})
	store.Lock()

	arbiter := newCapturingArbiter()
	client, _ := serveTestAgent(t, store, arbiter.UiArbiter)

	if _, err := client.Sign(signer.PublicKey(), []byte("data")); err == nil {
		t.Fatalf("expected Sign to fail while vault remains locked")
	}

	select {
	case req := <-arbiter.seen:
		if req.Action != "sign" {
			t.Fatalf("expected sign request to reach arbiter, got %+v", req)
		}
	default:
		t.Fatalf("expected the arbiter to be consulted even while the vault is locked")
	}
}

func TestScenarioSignUnknownKeyNeverReachesArbiter(t *testing.T) {
	store := NewKeyStore(nil)
	arbiter := newCapturingArbiter()
	client, _ := serveTestAgent(t, store, arbiter.UiArbiter)

	other := newTestSigner(t)
	if _, err := client.Sign(other.PublicKey(), []byte("data")); err == nil {
		t.Fatalf("expected Sign to fail for a key unknown to the store")
	}

	select {
	case req := <-arbiter.seen:
		t.Fatalf("expected no arbitration for an unknown key, got %+v", req)
	default:
	}
}

func TestScenarioListKeysWorksEvenLocked(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})
	store.Lock()

	client, _ := serveTestAgent(t, store, allowAllArbiter())

	keys, err := client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0].Comment != "laptop" {
		t.Fatalf("List() = %+v", keys)
	}
}

func TestScenarioSignAuthorized(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})

	client, _ := serveTestAgent(t, store, allowAllArbiter())

	sig, err := client.Sign(signer.PublicKey(), []byte("authenticate me"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := signer.PublicKey().Verify([]byte("authenticate me"), sig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
}

func TestScenarioSignDeniedByArbiter(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})

	outbound := make(chan Request, 1)
	arbiter := NewUiArbiter(outbound, time.Second)
	go func() {
		req := <-outbound
		arbiter.Respond(req.ID, DecisionDeny)
	}()

	client, _ := serveTestAgent(t, store, arbiter)

	if _, err := client.Sign(signer.PublicKey(), []byte("data")); err == nil {
		t.Fatalf("expected Sign to fail when arbiter denies")
	}
}

func TestScenarioVaultLockedSignFails(t *testing.T) {
	signer := newTestSigner(t)
	store := NewKeyStore(nil)
	store.SetUnlocked([]UnlockedSshItem{{Name: "laptop", Signer: signer}})
	store.Lock()

	client, _ := serveTestAgent(t, store, allowAllArbiter())

	if _, err := client.Sign(signer.PublicKey(), []byte("data")); err == nil {
		t.Fatalf("expected Sign to fail while vault is locked")
	}
}

func TestScenarioRSAWithoutFlagsRejected(t *testing.T) {
	store := NewKeyStore(nil)
	ca := &ConnAgent{store: store, arbiter: allowAllArbiter(), knownHosts: NewKnownHostsReader(""), session: NewConnectionSession(PeerInfo{})}

	signer := newTestSigner(t)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	rsaSigner, err := cryptossh.NewSignerFromKey(rsaKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	store.SetUnlocked([]UnlockedSshItem{{Name: "k", Signer: signer}, {Name: "rsa", Signer: rsaSigner}})

	// An RSA key with flags == 0 is rejected rather than signed with SHA-1.
	if _, err := ca.SignWithFlags(rsaSigner.PublicKey(), []byte("x"), 0); !errors.Is(err, ErrSignatureAlgorithm) {
		t.Fatalf("SignWithFlags for RSA key without flags = %v, want ErrSignatureAlgorithm", err)
	}

	// ed25519 keys bypass the RSA-specific branch entirely and always
	// succeed with algo == "", exercising the non-RSA path of
	// SignWithFlags directly.
	if _, err := ca.SignWithFlags(signer.PublicKey(), []byte("x"), 0); err != nil {
		t.Fatalf("SignWithFlags for non-RSA key should not require a flag: %v", err)
	}
}

func TestSessionBindRejectsBadSignature(t *testing.T) {
	store := NewKeyStore(nil)
	session := NewConnectionSession(PeerInfo{})
	ca := NewConnAgent(store, allowAllArbiter(), NewKnownHostsReader(""), session)

	hostPub, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshHostPub, err := cryptossh.NewPublicKey(hostPub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}

	sessionID := []byte("session-identifier")
	// Sign the wrong payload to simulate a forged/invalid session-bind
	// signature.
	badSig := ed25519.Sign(hostPriv, []byte("not the real payload"))

	payload := encodeSessionBindExtension(t, sshHostPub.Marshal(), sessionID, cryptossh.Marshal(&cryptossh.Signature{
		Format: sshHostPub.Type(),
		Blob:   badSig,
	}))

	if err := ca.Extension("session-bind@openssh.com", payload); err == nil {
		t.Fatalf("expected session-bind to reject an invalid signature")
	}
}

func TestSessionBindAcceptsValidSignature(t *testing.T) {
	store := NewKeyStore(nil)
	session := NewConnectionSession(PeerInfo{})
	ca := NewConnAgent(store, allowAllArbiter(), NewKnownHostsReader(""), session)

	hostPub, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshHostPub, err := cryptossh.NewPublicKey(hostPub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}

	sessionID := []byte("session-identifier")
	sig := ed25519.Sign(hostPriv, sessionBindSignedData(sessionID))

	payload := encodeSessionBindExtension(t, sshHostPub.Marshal(), sessionID, cryptossh.Marshal(&cryptossh.Signature{
		Format: sshHostPub.Type(),
		Blob:   sig,
	}))

	if err := ca.Extension("session-bind@openssh.com", payload); err != nil {
		t.Fatalf("expected valid session-bind to succeed: %v", err)
	}

	_, boundSessionID, bound := session.Binding()
	if !bound || !bytes.Equal(boundSessionID, sessionID) {
		t.Fatalf("session not recorded as bound")
	}
}

func encodeSessionBindExtension(t *testing.T, hostKeyBlob, sessionID, sigBlob []byte) []byte {
	t.Helper()
	return encodeSessionBindExtensionForwarding(t, hostKeyBlob, sessionID, sigBlob, false)
}

func encodeSessionBindExtensionForwarding(t *testing.T, hostKeyBlob, sessionID, sigBlob []byte, isForwarding bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeString(&buf, hostKeyBlob)
	writeString(&buf, sessionID)
	writeString(&buf, sigBlob)
	if isForwarding {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestSessionBindResolvesHostNameAndForwarding(t *testing.T) {
	hostPub, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshHostPub, err := cryptossh.NewPublicKey(hostPub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}

	dir := t.TempDir()
	path := dir + "/known_hosts"
	line := "build.example.com " + sshHostPub.Type() + " " + base64.StdEncoding.EncodeToString(sshHostPub.Marshal()) + "\n"
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := NewKeyStore(nil)
	session := NewConnectionSession(PeerInfo{})
	ca := NewConnAgent(store, allowAllArbiter(), NewKnownHostsReader(path), session)

	sessionID := []byte("session-identifier")
	sig := ed25519.Sign(hostPriv, sessionBindSignedData(sessionID))
	payload := encodeSessionBindExtensionForwarding(t, sshHostPub.Marshal(), sessionID, cryptossh.Marshal(&cryptossh.Signature{
		Format: sshHostPub.Type(),
		Blob:   sig,
	}), true)

	if err := ca.Extension("session-bind@openssh.com", payload); err != nil {
		t.Fatalf("expected valid session-bind to succeed: %v", err)
	}

	if got := session.HostName(); got != "build.example.com" {
		t.Fatalf("HostName() = %q, want %q", got, "build.example.com")
	}
	if !session.IsForwarding() {
		t.Fatalf("IsForwarding() = false, want true")
	}
}
