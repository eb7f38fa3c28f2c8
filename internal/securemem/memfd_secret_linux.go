//go:build linux

package securemem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// sysMemfdSecret is the memfd_secret(2) syscall number on linux/amd64 and
// linux/arm64 (447 on both; the syscall was introduced in kernel 5.14). golang.org/x/sys/unix does not wrap memfd_secret, so the
// raw number is used directly, matching how the kernel's own man-pages
// document invoking it from C without glibc support.
const sysMemfdSecret = 447

// secretFd wraps one memfd_secret-backed mapping holding a single entry's
// bytes. memfd_secret pages are removed from the direct map and are never
// written to swap or core dumps, and are inaccessible via /proc/pid/mem
// from any other process, including a debugger. n is the length of the
// stored secret; the mapping itself is at least one byte long.
type secretFd struct {
	mem []byte
	n   int
}

func createSecretFd(size int) (*secretFd, error) {
	if size < 1 {
		size = 1
	}
	fd, _, errno := unix.Syscall(sysMemfdSecret, 0, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("memfd_secret: %w", errno)
	}
	defer unix.Close(int(fd))

	if err := unix.Ftruncate(int(fd), int64(size)); err != nil {
		return nil, fmt.Errorf("memfd_secret ftruncate: %w", err)
	}
	mem, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memfd_secret mmap: %w", err)
	}
	return &secretFd{mem: mem}, nil
}

func (s *secretFd) close() error {
	zero(s.mem)
	return unix.Munmap(s.mem)
}

type processIsolatedBackend struct {
	mu      sync.Mutex
	entries map[string]*secretFd
}

func newProcessIsolatedBackend() (Backend, error) {
	return &processIsolatedBackend{entries: make(map[string]*secretFd)}, nil
}

func (b *processIsolatedBackend) Put(key string, secret []byte) error {
	sfd, err := createSecretFd(len(secret))
	if err != nil {
		return fmt.Errorf("securemem: process-isolated allocation failed: %w", err)
	}
	copy(sfd.mem, secret)
	sfd.n = len(secret)

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.entries[key]; ok {
		_ = old.close()
	}
	b.entries[key] = sfd
	return nil
}

func (b *processIsolatedBackend) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sfd, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, sfd.n)
	copy(out, sfd.mem[:sfd.n])
	return out, true
}

func (b *processIsolatedBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok
}

func (b *processIsolatedBackend) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sfd, ok := b.entries[key]; ok {
		_ = sfd.close()
		delete(b.entries, key)
	}
}

func (b *processIsolatedBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, sfd := range b.entries {
		_ = sfd.close()
		delete(b.entries, k)
	}
}

func (b *processIsolatedBackend) Close() error {
	b.Clear()
	return nil
}

func (b *processIsolatedBackend) Variant() string { return VariantProcessIsolated }

// memfdSecretCapable probes memfd_secret availability. It fails closed:
// any error (missing syscall, kernel lacking CONFIG_SECRETMEM, seccomp
// filtering) is treated as "not capable" rather than propagated, so the
// caller falls back to mlock.
func memfdSecretCapable() bool {
	fd, _, errno := unix.Syscall(sysMemfdSecret, 0, 0, 0)
	if errno != 0 {
		return false
	}
	unix.Close(int(fd))
	return true
}

func probePlatform() (func() (Backend, error), error) {
	if memfdSecretCapable() {
		return newProcessIsolatedBackend, nil
	}
	if mlockCapable() {
		return newMlockBackend, nil
	}
	return nil, fmt.Errorf("neither memfd_secret nor mlock is available")
}
