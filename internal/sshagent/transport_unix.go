//go:build !windows

package sshagent

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
)

// unixListener implements Listener over a Unix domain socket, reporting
// peer identity via SO_PEERCRED (Linux) / LOCAL_PEERCRED (BSD/darwin,
// where golang.org/x/sys/unix.GetsockoptXucred applies).
type unixListener struct {
	path string
	ln   net.Listener
}

// NewUnixListener creates and binds a Unix socket at path, mode 0600,
// removing a stale (unconnectable) socket left behind by a previous run.
func NewUnixListener(path string) (Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("sshagent: creating socket directory: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotSocket, path)
		}
		if conn, dialErr := net.Dial("unix", path); dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrSocketExists, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("sshagent: removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("sshagent: listening on socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("sshagent: setting socket permissions: %w", err)
	}

	return &unixListener{path: path, ln: ln}, nil
}

func (l *unixListener) Accept() (net.Conn, PeerInfo, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, PeerInfo{}, err
	}
	peer := PeerInfo{Transport: TransportUnixSocket}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		if pid, name, err := peerCredentials(unixConn); err == nil {
			peer.PID = pid
			peer.ProcessName = name
		}
	}
	return conn, peer, nil
}

func (l *unixListener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

func (l *unixListener) Addr() string { return l.path }

// peerCredentials extracts the remote process's PID (and, best-effort,
// its executable name) via the platform's peer-credential socket option.
func peerCredentials(conn *net.UnixConn) (int, string, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, "", err
	}

	var pid int
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		pid, sockErr = peerPIDFromFd(int(fd))
	})
	if ctrlErr != nil {
		return 0, "", ctrlErr
	}
	if sockErr != nil {
		return 0, "", sockErr
	}

	name := processNameForPID(pid)
	return pid, name, nil
}

// processNameForPID reads the executable name for pid from /proc,
// returning "" if unavailable (non-Linux Unix, or the process already
// exited). This reads only the name, never walks the process tree or
// inspects command-line arguments.
func processNameForPID(pid int) string {
	data, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return ""
	}
	return filepath.Base(data)
}

// peerPIDFromFd is defined per-OS in peercred_linux.go / peercred_bsd.go,
// since the credential socket option differs between Linux
// (SO_PEERCRED/Ucred) and the BSD family (LOCAL_PEERCRED/Xucred).

// DefaultSocketPath returns the path the agent listens on when no
// explicit path is configured: the BITWARDEN_SSH_AUTH_SOCK override if
// set, otherwise $XDG_RUNTIME_DIR/vaultagent/ssh.sock, otherwise a
// per-uid path under the OS temp directory.
func DefaultSocketPath() string {
	if override := os.Getenv("BITWARDEN_SSH_AUTH_SOCK"); override != "" {
		return override
	}
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "vaultagent", "ssh.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("vaultagent-%d", os.Geteuid()), "ssh.sock")
}

// LegacySocketPath returns the pre-XDG home-directory socket path this
// agent also serves when the legacy socket is enabled, for clients
// configured against an older install.
func LegacySocketPath() string {
	u, err := user.Current()
	if err != nil || u.HomeDir == "" {
		return ""
	}
	return filepath.Join(u.HomeDir, ".bitwarden-ssh-agent.sock")
}
