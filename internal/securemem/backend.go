// Package securemem provides hardened in-memory storage for secret key
// material, plus an authenticated-encryption wrapper built on top of it.
//
// A Backend holds raw secret bytes under whatever isolation the host
// platform can provide, and is selected once per process by probing
// platform capabilities in order of strength: process-isolated memory,
// then locked (non-swappable) memory, then same-process OS encryption as
// a last resort. Selection is memoized; every Backend returned by New
// shares the probed variant for the life of the process.
package securemem

import (
	"fmt"
	"sync"
)

// Backend stores secret byte slices under a string key. Implementations
// must zeroize their storage on Close.
type Backend interface {
	// Put stores (or replaces) the bytes under key. The caller's slice is
	// copied; the backend never retains a reference to it.
	Put(key string, secret []byte) error
	// Get returns a fresh owned copy of the bytes stored under key, or
	// false if no entry exists.
	Get(key string) ([]byte, bool)
	// Has reports whether key has an entry, without copying secret bytes.
	Has(key string) bool
	// Remove deletes the entry for key, zeroizing its storage. It is not
	// an error to remove a key that does not exist.
	Remove(key string)
	// Clear zeroizes and removes every entry.
	Clear()
	// Close clears the backend and releases any platform resources.
	Close() error
	// Variant identifies which platform strategy backs this instance, for
	// logging and diagnostics only.
	Variant() string
}

const (
	// VariantProcessIsolated is backed by Linux memfd_secret(2): pages
	// excluded from the kernel's own address space, immune to
	// /proc/pid/mem inspection from other processes.
	VariantProcessIsolated = "process-isolated"
	// VariantMemoryLocked is backed by mlock(2): pages pinned out of
	// swap, readable by any process with ptrace rights on this one.
	VariantMemoryLocked = "memory-locked"
	// VariantOSEncrypted is backed by an OS same-process encryption
	// primitive (Windows CryptProtectMemory): no swap or cross-process
	// protection beyond what the OS API itself provides.
	VariantOSEncrypted = "os-encrypted-same-process"
)

var (
	probeOnce    sync.Once
	probedNewFn  func() (Backend, error)
	probeErr     error
)

// New returns a Backend using the strongest isolation strategy this
// platform supports. The probe runs once per process and is memoized;
// subsequent calls reuse the result but each still gets its own
// independent store.
func New() (Backend, error) {
	probeOnce.Do(func() {
		probedNewFn, probeErr = probePlatform()
	})
	if probeErr != nil {
		return nil, fmt.Errorf("securemem: no usable backend: %w", probeErr)
	}
	return probedNewFn()
}

// zero overwrites b with zero bytes in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
