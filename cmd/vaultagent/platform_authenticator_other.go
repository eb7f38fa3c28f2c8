//go:build !linux && !windows

package main

import "github.com/joe/vaultagent/internal/biometric"

// newPlatformAuthenticator has no BSD/darwin-specific human-presence check
// wired up yet, so it fails closed rather than silently skipping the gate.
func newPlatformAuthenticator() biometric.Authenticator {
	return biometric.NewUnsupportedAuthenticator()
}
