//go:build linux

package sshagent

import "golang.org/x/sys/unix"

// peerPIDFromFd reads the connecting process's PID via SO_PEERCRED.
func peerPIDFromFd(fd int) (int, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, err
	}
	return int(ucred.Pid), nil
}
