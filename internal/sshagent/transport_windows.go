//go:build windows

package sshagent

import (
	"fmt"
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// namedPipeListener implements Listener over a Windows named pipe,
// reporting peer identity via GetNamedPipeClientProcessId.
type namedPipeListener struct {
	path string
	ln   net.Listener
}

// NewNamedPipeListener creates a named pipe at path (e.g.
// `\\.\pipe\openssh-ssh-agent`), restricted to the current user's SID.
func NewNamedPipeListener(path string) (Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)", // owner only
		MessageMode:        false,
		InputBufferSize:    4096,
		OutputBufferSize:   4096,
	}
	ln, err := winio.ListenPipe(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("sshagent: listening on named pipe: %w", err)
	}
	return &namedPipeListener{path: path, ln: ln}, nil
}

func (l *namedPipeListener) Accept() (net.Conn, PeerInfo, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, PeerInfo{}, err
	}
	peer := PeerInfo{Transport: TransportNamedPipe}
	if pipeConn, ok := conn.(winio.PipeConn); ok {
		if pid, err := pipeConn.Pid(); err == nil {
			peer.PID = int(pid)
			peer.ProcessName = processNameForPID(pid)
		}
	}
	return conn, peer, nil
}

func (l *namedPipeListener) Close() error { return l.ln.Close() }

func (l *namedPipeListener) Addr() string { return l.path }

// processNameForPID returns the process's full image path, queried with
// QueryFullProcessImageName through golang.org/x/sys/windows, or "" if
// the process cannot be opened or queried.
func processNameForPID(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

// DefaultSocketPath returns the named pipe path the agent listens on
// when no explicit path is configured.
func DefaultSocketPath() string {
	if override := os.Getenv("BITWARDEN_SSH_AUTH_SOCK"); override != "" {
		return override
	}
	return `\\.\pipe\openssh-ssh-agent`
}

// LegacySocketPath has no Windows equivalent; named pipes have no
// per-user home-directory convention to fall back to.
func LegacySocketPath() string { return "" }
