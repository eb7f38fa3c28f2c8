//go:build !windows

package securemem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// mlockBackend keeps each secret in its own mlock(2)-pinned buffer so the
// kernel never writes it to swap. It does not protect against another
// process on the same host with ptrace or /proc/pid/mem access to this
// one; that is the tradeoff for running without memfd_secret.
type mlockBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMlockBackend() (Backend, error) {
	return &mlockBackend{entries: make(map[string][]byte)}, nil
}

func (b *mlockBackend) Put(key string, secret []byte) error {
	buf, err := lockedAlloc(len(secret))
	if err != nil {
		return fmt.Errorf("securemem: mlock allocation failed: %w", err)
	}
	copy(buf, secret)

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.entries[key]; ok {
		zero(old)
		_ = unix.Munlock(old)
	}
	b.entries[key] = buf
	return nil
}

func (b *mlockBackend) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

func (b *mlockBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok
}

func (b *mlockBackend) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.entries[key]; ok {
		zero(buf)
		_ = unix.Munlock(buf)
		delete(b.entries, key)
	}
}

func (b *mlockBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, buf := range b.entries {
		zero(buf)
		_ = unix.Munlock(buf)
		delete(b.entries, k)
	}
}

func (b *mlockBackend) Close() error {
	b.Clear()
	return nil
}

func (b *mlockBackend) Variant() string { return VariantMemoryLocked }

// lockedAlloc allocates a buffer of at least n bytes and mlocks it. A
// minimum size of 1 is used so a zero-length secret still gets a backing
// page (mlock on a zero-length slice is a no-op on most kernels).
func lockedAlloc(n int) ([]byte, error) {
	size := n
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)
	if err := unix.Mlock(buf); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func mlockCapable() bool {
	probe := make([]byte, 1)
	if err := unix.Mlock(probe); err != nil {
		return false
	}
	_ = unix.Munlock(probe)
	return true
}
