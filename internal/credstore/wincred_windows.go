//go:build windows

package credstore

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const credTypeGeneric = 1 // CRED_TYPE_GENERIC

var (
	modadvapi32      = windows.NewLazySystemDLL("advapi32.dll")
	procCredWriteW   = modadvapi32.NewProc("CredWriteW")
	procCredReadW    = modadvapi32.NewProc("CredReadW")
	procCredDeleteW  = modadvapi32.NewProc("CredDeleteW")
	procCredFree     = modadvapi32.NewProc("CredFree")
)

// credential mirrors the fields of CREDENTIALW this package reads/writes.
// Only the subset needed to round-trip an opaque blob is declared.
type credential struct {
	Flags              uint32
	Type               uint32
	TargetName         *uint16
	Comment            *uint16
	LastWritten        windows.Filetime
	CredentialBlobSize uint32
	CredentialBlob     *byte
	Persist            uint32
	AttributeCount     uint32
	Attributes         uintptr
	TargetAlias        *uint16
	UserName           *uint16
}

const credPersistLocalMachine = 2

// winCredStore persists entries through the Windows Credential Manager,
// keyed by a single target name combining service and account the way
// git-credential-manager and similar tools do.
type winCredStore struct{}

// NewStore returns a Store backed by the Windows Credential Manager.
func NewStore() (Store, error) {
	return winCredStore{}, nil
}

func targetName(service, account string) string {
	return service + ":" + account
}

func (winCredStore) Set(service, account string, blob []byte) error {
	target, err := syscall.UTF16PtrFromString(targetName(service, account))
	if err != nil {
		return fmt.Errorf("credstore: encoding target name: %w", err)
	}
	userPtr, err := syscall.UTF16PtrFromString(account)
	if err != nil {
		return fmt.Errorf("credstore: encoding account name: %w", err)
	}

	cred := credential{
		Type:               credTypeGeneric,
		TargetName:         target,
		CredentialBlobSize: uint32(len(blob)),
		Persist:            credPersistLocalMachine,
		UserName:           userPtr,
	}
	if len(blob) > 0 {
		cred.CredentialBlob = &blob[0]
	}

	r, _, lastErr := procCredWriteW.Call(uintptr(unsafe.Pointer(&cred)), 0)
	if r == 0 {
		return fmt.Errorf("credstore: CredWriteW failed: %w", lastErr)
	}
	return nil
}

func (winCredStore) Get(service, account string) ([]byte, error) {
	target, err := syscall.UTF16PtrFromString(targetName(service, account))
	if err != nil {
		return nil, fmt.Errorf("credstore: encoding target name: %w", err)
	}

	var credPtr *credential
	r, _, lastErr := procCredReadW.Call(
		uintptr(unsafe.Pointer(target)),
		uintptr(credTypeGeneric),
		0,
		uintptr(unsafe.Pointer(&credPtr)),
	)
	if r == 0 {
		if lastErr == windows.ERROR_NOT_FOUND {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credstore: CredReadW failed: %w", lastErr)
	}
	defer procCredFree.Call(uintptr(unsafe.Pointer(credPtr)))

	if credPtr.CredentialBlobSize == 0 {
		return []byte{}, nil
	}
	out := make([]byte, credPtr.CredentialBlobSize)
	src := unsafe.Slice(credPtr.CredentialBlob, credPtr.CredentialBlobSize)
	copy(out, src)
	return out, nil
}

func (winCredStore) Delete(service, account string) error {
	target, err := syscall.UTF16PtrFromString(targetName(service, account))
	if err != nil {
		return fmt.Errorf("credstore: encoding target name: %w", err)
	}

	r, _, lastErr := procCredDeleteW.Call(uintptr(unsafe.Pointer(target)), uintptr(credTypeGeneric), 0)
	if r == 0 && lastErr != windows.ERROR_NOT_FOUND {
		return fmt.Errorf("credstore: CredDeleteW failed: %w", lastErr)
	}
	return nil
}
