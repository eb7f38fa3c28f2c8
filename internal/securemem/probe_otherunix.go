//go:build !linux && !windows

package securemem

import "fmt"

// probePlatform on non-Linux Unix (darwin, the BSDs) has no
// memfd_secret-equivalent available through golang.org/x/sys, so mlock is
// the strongest isolation this module offers there.
func probePlatform() (func() (Backend, error), error) {
	if mlockCapable() {
		return newMlockBackend, nil
	}
	return nil, fmt.Errorf("mlock is not available")
}
