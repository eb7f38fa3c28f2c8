//go:build darwin || freebsd || netbsd || openbsd

package sshagent

import "golang.org/x/sys/unix"

// peerPIDFromFd reads the connecting process's PID via LOCAL_PEERCRED.
func peerPIDFromFd(fd int) (int, error) {
	xucred, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return 0, err
	}
	return int(xucred.Pid), nil
}
