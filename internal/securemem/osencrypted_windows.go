//go:build windows

package securemem

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

func unsafePtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

const (
	cryptProtectMemorySameProcess = 0
	cryptMemoryBlockSize          = 16
)

var (
	modcrypt32             = windows.NewLazySystemDLL("crypt32.dll")
	procCryptProtectMemory = modcrypt32.NewProc("CryptProtectMemory")
	procCryptUnprotect     = modcrypt32.NewProc("CryptUnprotectMemory")
)

// osEncryptedBackend protects each entry with CryptProtectMemory under
// CRYPTPROTECTMEMORY_SAME_PROCESS: the OS derives a process-specific key
// so the ciphertext is unreadable outside this process, but it affords no
// protection against a debugger attached to this same process. Each
// stored entry is prefixed with its plaintext length, encoded as 8 bytes,
// then padded to the 16-byte block size CryptProtectMemory requires.
type osEncryptedBackend struct {
	mu      sync.Mutex
	entries map[string][]byte // ciphertext blocks, in place
}

func newOSEncryptedBackend() (Backend, error) {
	return &osEncryptedBackend{entries: make(map[string][]byte)}, nil
}

func (b *osEncryptedBackend) Put(key string, secret []byte) error {
	block := encodeBlock(secret)
	if err := cryptProtect(block); err != nil {
		return fmt.Errorf("securemem: CryptProtectMemory failed: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.entries[key]; ok {
		zero(old)
	}
	b.entries[key] = block
	return nil
}

func (b *osEncryptedBackend) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	block, ok := b.entries[key]
	if !ok {
		b.mu.Unlock()
		return nil, false
	}
	plain := make([]byte, len(block))
	copy(plain, block)
	b.mu.Unlock()

	if err := cryptUnprotect(plain); err != nil {
		zero(plain)
		return nil, false
	}
	out, err := decodeBlock(plain)
	zero(plain)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (b *osEncryptedBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok
}

func (b *osEncryptedBackend) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if block, ok := b.entries[key]; ok {
		zero(block)
		delete(b.entries, key)
	}
}

func (b *osEncryptedBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, block := range b.entries {
		zero(block)
		delete(b.entries, k)
	}
}

func (b *osEncryptedBackend) Close() error {
	b.Clear()
	return nil
}

func (b *osEncryptedBackend) Variant() string { return VariantOSEncrypted }

func encodeBlock(secret []byte) []byte {
	payload := make([]byte, 8+len(secret))
	binary.LittleEndian.PutUint64(payload[:8], uint64(len(secret)))
	copy(payload[8:], secret)

	padded := len(payload)
	if rem := padded % cryptMemoryBlockSize; rem != 0 {
		padded += cryptMemoryBlockSize - rem
	}
	block := make([]byte, padded)
	copy(block, payload)
	return block
}

func decodeBlock(block []byte) ([]byte, error) {
	if len(block) < 8 {
		return nil, fmt.Errorf("securemem: truncated block")
	}
	n := binary.LittleEndian.Uint64(block[:8])
	if 8+n > uint64(len(block)) {
		return nil, fmt.Errorf("securemem: corrupt length prefix")
	}
	out := make([]byte, n)
	copy(out, block[8:8+n])
	return out, nil
}

func cryptProtect(data []byte) error {
	r, _, _ := procCryptProtectMemory.Call(
		uintptr(0),
		uintptr(unsafePtr(data)),
		uintptr(len(data)),
		uintptr(cryptProtectMemorySameProcess),
	)
	if r == 0 {
		return fmt.Errorf("CryptProtectMemory returned failure")
	}
	return nil
}

func cryptUnprotect(data []byte) error {
	r, _, _ := procCryptUnprotect.Call(
		uintptr(0),
		uintptr(unsafePtr(data)),
		uintptr(len(data)),
		uintptr(cryptProtectMemorySameProcess),
	)
	if r == 0 {
		return fmt.Errorf("CryptUnprotectMemory returned failure")
	}
	return nil
}

func probePlatform() (func() (Backend, error), error) {
	return newOSEncryptedBackend, nil
}
