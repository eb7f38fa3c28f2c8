//go:build !windows

package main

import "github.com/joe/vaultagent/internal/sshagent"

func newPlatformListener(path string) (sshagent.Listener, error) {
	return sshagent.NewUnixListener(path)
}
