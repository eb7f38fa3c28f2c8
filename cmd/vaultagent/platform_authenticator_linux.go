//go:build linux

package main

import (
	"github.com/godbus/dbus/v5"

	"github.com/joe/vaultagent/internal/biometric"
	"github.com/joe/vaultagent/internal/logging"
)

// newPlatformAuthenticator returns a PolicyKit-backed authenticator when a
// session bus is reachable, and a fail-closed stub otherwise.
func newPlatformAuthenticator() biometric.Authenticator {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		logging.L.Warn("no session D-Bus available, biometric prompts will fail closed", "error", err)
		return biometric.NewUnsupportedAuthenticator()
	}
	return biometric.NewPolkitAuthenticator(conn)
}
