package sshagent

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh/agent"

	"github.com/joe/vaultagent/internal/logging"
)

// Listener is the platform transport abstraction: something that accepts
// connections and can report best-effort peer identity for each one.
// transport_unix.go and transport_windows.go provide the concrete
// implementations.
type Listener interface {
	Accept() (net.Conn, PeerInfo, error)
	Close() error
	Addr() string
}

// Agent is the SSH agent-protocol server: it owns a Listener, the shared
// KeyStore, UiArbiter, and KnownHostsReader, and spawns one ConnAgent per
// accepted connection.
type Agent struct {
	store      *KeyStore
	arbiter    *UiArbiter
	knownHosts *KnownHostsReader

	newListener func() (Listener, error)

	mu       sync.Mutex
	listener Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	conns    map[net.Conn]struct{}
	connsMu  sync.Mutex
	started  bool
}

// NewAgent constructs an Agent. newListener is called once by Start to
// create the platform listener, so tests can substitute an in-memory
// implementation.
func NewAgent(store *KeyStore, arbiter *UiArbiter, knownHosts *KnownHostsReader, newListener func() (Listener, error)) *Agent {
	return &Agent{store: store, arbiter: arbiter, knownHosts: knownHosts, newListener: newListener}
}

// Start begins accepting connections in the background. It returns once
// the listener is ready; connection handling continues until Stop is
// called. Canceling ctx does not close the listener or any connection:
// the accept loop checks ctx only after Accept returns an error.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}

	listener, err := a.newListener()
	if err != nil {
		return fmt.Errorf("sshagent: creating listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.listener = listener
	a.cancel = cancel
	a.conns = make(map[net.Conn]struct{})
	a.started = true

	a.wg.Add(1)
	go a.acceptLoop(runCtx)
	return nil
}

// Addr returns the address the agent is listening on.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr()
}

func (a *Agent) acceptLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		conn, peer, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logging.L.With("component", "ssh-agent").Warn("accept error", "error", err)
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConnection(ctx, conn, peer)
	}
}

func (a *Agent) handleConnection(ctx context.Context, conn net.Conn, peer PeerInfo) {
	a.connsMu.Lock()
	a.conns[conn] = struct{}{}
	a.connsMu.Unlock()

	defer func() {
		a.connsMu.Lock()
		delete(a.conns, conn)
		a.connsMu.Unlock()
		conn.Close()
		a.wg.Done()
	}()

	session := NewConnectionSession(peer)
	connAgent := NewConnAgent(a.store, a.arbiter, a.knownHosts, session)

	logging.L.With("component", "ssh-agent").Debug("connection accepted",
		"connection", session.ID, "peer_pid", peer.PID, "peer_process", peer.ProcessName)

	if err := agent.ServeAgent(connAgent, conn); err != nil {
		logging.L.With("component", "ssh-agent").Debug("connection closed", "connection", session.ID, "error", err)
	}
}

// Stop closes the listener and every active connection, then waits for
// all connection handlers to finish.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	listener := a.listener
	a.started = false
	a.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	a.connsMu.Lock()
	for conn := range a.conns {
		conn.Close()
	}
	a.connsMu.Unlock()

	a.wg.Wait()
	return nil
}
