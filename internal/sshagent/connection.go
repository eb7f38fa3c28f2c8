package sshagent

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	cryptossh "golang.org/x/crypto/ssh"
)

// ConnectionID uniquely identifies one accepted agent connection for the
// life of the process. IDs are monotonically increasing and never
// reused; ordering is only meaningful within a single connection, not
// across connections.
type ConnectionID uint32

var connectionCounter atomic.Uint32

// nextConnectionID returns the next globally unique connection ID.
func nextConnectionID() ConnectionID {
	return ConnectionID(connectionCounter.Add(1))
}

// TransportKind identifies which listener kind accepted a connection.
type TransportKind int

const (
	TransportUnixSocket TransportKind = iota
	TransportNamedPipe
)

func (t TransportKind) String() string {
	switch t {
	case TransportUnixSocket:
		return "unix-socket"
	case TransportNamedPipe:
		return "named-pipe"
	default:
		return "unknown"
	}
}

// PeerInfo is best-effort identification of the process on the other end
// of a connection. Fields are left zero/empty when the platform cannot
// supply them; callers must not treat an empty PeerInfo as a trust
// signal either way.
type PeerInfo struct {
	PID         int
	ProcessName string
	Transport   TransportKind
}

// ConnectionSession holds the per-connection state the agent protocol
// extensions need: the monotonic connection ID, best-effort peer
// identity, and the session-bind@openssh.com binding (if the client
// performed one). A session can be bound at most once; a second bind
// attempt with different parameters is rejected rather than silently
// overwriting the first.
type ConnectionSession struct {
	ID   ConnectionID
	Peer PeerInfo

	mu           sync.Mutex
	bound        bool
	hostKey      []byte
	sessionID    []byte
	hostName     string
	isForwarding bool
}

// NewConnectionSession allocates a new session with a fresh connection
// ID for the given peer.
func NewConnectionSession(peer PeerInfo) *ConnectionSession {
	return &ConnectionSession{ID: nextConnectionID(), Peer: peer}
}

// Bind records the session-bind@openssh.com host key, session
// identifier, resolved known_hosts host name (empty if unrecognized),
// and is-forwarding flag for this connection. Calling Bind again with
// the same host key and session ID is a no-op; calling it with
// different values returns ErrAlreadyBound.
func (s *ConnectionSession) Bind(hostKey, sessionID []byte, hostName string, isForwarding bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		if bytes.Equal(s.hostKey, hostKey) && bytes.Equal(s.sessionID, sessionID) {
			return nil
		}
		return ErrAlreadyBound
	}
	s.hostKey = append([]byte(nil), hostKey...)
	s.sessionID = append([]byte(nil), sessionID...)
	s.hostName = hostName
	s.isForwarding = isForwarding
	s.bound = true
	return nil
}

// Binding returns the bound host key and session ID, and whether a
// binding has been established yet.
func (s *ConnectionSession) Binding() (hostKey, sessionID []byte, bound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostKey, s.sessionID, s.bound
}

// HostName returns the known_hosts host name resolved for this
// connection's bound host key, or "" if unbound or unrecognized.
func (s *ConnectionSession) HostName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostName
}

// IsForwarding reports the is-forwarding flag recorded at bind time.
func (s *ConnectionSession) IsForwarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isForwarding
}

// sessionBindSignedData builds the blob session-bind@openssh.com expects
// the client's signature to cover, per draft-miller-ssh-agent: the
// session identifier followed by a fixed "session-bind@openssh.com"
// marker packet.
func sessionBindSignedData(sessionID []byte) []byte {
	var buf bytes.Buffer
	writeString(&buf, sessionID)
	buf.WriteByte(sshMsgUserAuthSuccessNumber)
	return buf.Bytes()
}

// sshMsgUserAuthSuccessNumber (#52) is the message number the session
// bind extension's signed payload is keyed against, matching the
// SSH_AGENT_BIND semantics of the OpenSSH extension.
const sshMsgUserAuthSuccessNumber = 52

func writeString(buf *bytes.Buffer, s []byte) {
	var lenBytes [4]byte
	putUint32(lenBytes[:], uint32(len(s)))
	buf.Write(lenBytes[:])
	buf.Write(s)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// verifySessionBindSignature checks that sig is a valid signature by
// hostKey over the session-bind payload for sessionID.
func verifySessionBindSignature(hostKey cryptossh.PublicKey, sessionID []byte, sig *cryptossh.Signature) error {
	data := sessionBindSignedData(sessionID)
	if err := hostKey.Verify(data, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
