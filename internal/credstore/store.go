// Package credstore provides a small client abstraction over the host
// OS's credential/secret store, used to persist the wrapped vault key
// entries that back biometric unlock across restarts.
package credstore

import "errors"

// ErrNotFound is returned by Get when no entry exists for the given
// service/account pair.
var ErrNotFound = errors.New("credstore: entry not found")

// Store reads and writes opaque byte blobs keyed by (service, account),
// mirroring the shape of both the freedesktop Secret Service API and the
// Windows Credential Manager.
type Store interface {
	// Set stores blob under (service, account), replacing any existing
	// entry.
	Set(service, account string, blob []byte) error
	// Get retrieves the blob stored under (service, account). It returns
	// ErrNotFound if no such entry exists.
	Get(service, account string) ([]byte, error)
	// Delete removes the entry for (service, account). It is not an
	// error to delete an entry that does not exist.
	Delete(service, account string) error
}
