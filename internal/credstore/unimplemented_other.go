//go:build !linux && !windows

package credstore

import "fmt"

// NewStore has no credential-store integration on this platform. This
// mirrors the upstream project's own stance on unsupported targets:
// fail closed rather than silently store credentials in plain files.
func NewStore() (Store, error) {
	return nil, fmt.Errorf("credstore: no credential store integration for this platform")
}
