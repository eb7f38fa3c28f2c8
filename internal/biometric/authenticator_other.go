//go:build !windows

package biometric

import (
	"context"
	"fmt"
)

type unsupportedAuthenticator struct{}

// NewUnsupportedAuthenticator returns an Authenticator that always fails
// closed. It is used where no prompt bridge is available: on platforms
// other than Linux and Windows (no Touch ID / biometric prompt bridge is
// implemented there), and on Linux when no session bus is reachable.
func NewUnsupportedAuthenticator() Authenticator {
	return unsupportedAuthenticator{}
}

func (unsupportedAuthenticator) Authenticate(ctx context.Context, reason string) error {
	return fmt.Errorf("biometric: no prompt backend available on this platform")
}

func (unsupportedAuthenticator) Available(ctx context.Context) bool {
	return false
}
