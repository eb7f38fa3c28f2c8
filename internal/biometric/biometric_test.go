package biometric

import (
	"context"
	"errors"
	"testing"

	"github.com/joe/vaultagent/internal/credstore"
	"github.com/joe/vaultagent/internal/securemem"
)

// fakeStore is a minimal in-process credstore.Store for tests.
type fakeStore struct {
	entries map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{entries: make(map[string][]byte)} }

func fakeKey(service, account string) string { return service + "/" + account }

func (s *fakeStore) Set(service, account string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.entries[fakeKey(service, account)] = cp
	return nil
}

func (s *fakeStore) Get(service, account string) ([]byte, error) {
	v, ok := s.entries[fakeKey(service, account)]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Delete(service, account string) error {
	delete(s.entries, fakeKey(service, account))
	return nil
}

// fakeAuthenticator approves unless deny is set, recording how many times
// it was asked and for what reason.
type fakeAuthenticator struct {
	calls       int
	deny        bool
	reason      string
	unavailable bool
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, reason string) error {
	f.calls++
	f.reason = reason
	if f.deny {
		return errors.New("denied")
	}
	return nil
}

func (f *fakeAuthenticator) Available(ctx context.Context) bool {
	return !f.unavailable
}

func TestEnrollAndUnlockPersistentRoundTrip(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	plaintext := []byte("hello vault")
	ciphertext, err := original.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	ctx := context.Background()
	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}

	unlocked, err := lock.UnlockPersistent(ctx, "user-1")
	if err != nil {
		t.Fatalf("UnlockPersistent: %v", err)
	}
	defer unlocked.Close()

	got, err := unlocked.Decrypt(ciphertext, nil)
	if err != nil {
		t.Fatalf("Decrypt with unwrapped key: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}

	if auth.calls != 2 {
		t.Fatalf("expected 2 authentication prompts (enroll + unlock), got %d", auth.calls)
	}
}

func TestUnlockPersistentFailsWithoutEnrollment(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	if _, err := lock.UnlockPersistent(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected error unlocking without enrollment")
	}
}

func TestUnlockPersistentFailsWhenAuthenticationDenied(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	ctx := context.Background()
	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}

	auth.deny = true
	if _, err := lock.UnlockPersistent(ctx, "user-1"); err == nil {
		t.Fatalf("expected error when authentication is denied")
	}
}

func TestUnenrollRemovesEntry(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	ctx := context.Background()
	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}
	if err := lock.Unenroll("user-1"); err != nil {
		t.Fatalf("Unenroll: %v", err)
	}
	if _, err := lock.UnlockPersistent(ctx, "user-1"); err == nil {
		t.Fatalf("expected error unlocking after Unenroll")
	}
}

func TestUnlockSessionResidentGatesOnAuthenticator(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{deny: true}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	if err := lock.UnlockSessionResident(context.Background(), "sign ssh challenge"); err == nil {
		t.Fatalf("expected session-resident unlock to fail when authenticator denies")
	}
	if auth.reason != "sign ssh challenge" {
		t.Fatalf("reason not propagated to authenticator: got %q", auth.reason)
	}
}

func TestHasPersistentReflectsEnrollment(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	if lock.HasPersistent("user-1") {
		t.Fatalf("expected no persistent enrollment before EnrollPersistent")
	}

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	ctx := context.Background()
	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}
	if !lock.HasPersistent("user-1") {
		t.Fatalf("expected persistent enrollment after EnrollPersistent")
	}

	if err := lock.Unenroll("user-1"); err != nil {
		t.Fatalf("Unenroll: %v", err)
	}
	if lock.HasPersistent("user-1") {
		t.Fatalf("expected no persistent enrollment after Unenroll")
	}
}

func TestUnlockAvailableReflectsAuthenticatorAndEnrollment(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)
	ctx := context.Background()

	if lock.UnlockAvailable(ctx, "user-1") {
		t.Fatalf("expected UnlockAvailable to be false with no resident key and no enrollment")
	}

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}
	if !lock.UnlockAvailable(ctx, "user-1") {
		t.Fatalf("expected UnlockAvailable to be true once a persistent enrollment exists")
	}

	auth.unavailable = true
	if lock.UnlockAvailable(ctx, "user-1") {
		t.Fatalf("expected UnlockAvailable to be false when the authenticator's prompt is unavailable")
	}
}

func TestUnlockPrefersResidentKeyOverPersistent(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)
	ctx := context.Background()

	resident, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer resident.Close()

	plaintext := []byte("resident secret")
	ciphertext, err := resident.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Enroll a different key persistently: if Unlock took the persistent
	// path, the resident ciphertext would not decrypt.
	persistent, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer persistent.Close()
	if err := lock.EnrollPersistent(ctx, "user-1", persistent); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}
	auth.calls = 0

	lock.ProvideKey("user-1", resident)
	if !lock.UnlockAvailable(ctx, "user-1") {
		t.Fatalf("expected UnlockAvailable to be true once a resident key is provided")
	}

	unlocked, err := lock.Unlock(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	defer unlocked.Close()

	got, err := unlocked.Decrypt(ciphertext, nil)
	if err != nil {
		t.Fatalf("Decrypt with unlocked copy: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
	if auth.calls != 1 {
		t.Fatalf("expected exactly 1 authentication prompt, got %d", auth.calls)
	}
}

func TestUnlockFallsBackToPersistentWithoutResidentKey(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)
	ctx := context.Background()

	original, err := securemem.GenerateSecureEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateSecureEncryptionKey: %v", err)
	}
	defer original.Close()

	if err := lock.EnrollPersistent(ctx, "user-1", original); err != nil {
		t.Fatalf("EnrollPersistent: %v", err)
	}

	unlocked, err := lock.Unlock(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	defer unlocked.Close()
}

func TestUnlockFailsWithNoResidentOrPersistent(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)

	if _, err := lock.Unlock(context.Background(), "user-1", 0); err == nil {
		t.Fatalf("expected Unlock to fail with no resident key and no enrollment")
	}
}

func TestAuthenticateAvailableReflectsPromptBackend(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)
	ctx := context.Background()

	if !lock.AuthenticateAvailable(ctx) {
		t.Fatalf("expected AuthenticateAvailable to be true when the authenticator is available")
	}
	auth.unavailable = true
	if lock.AuthenticateAvailable(ctx) {
		t.Fatalf("expected AuthenticateAvailable to be false when the authenticator is unavailable")
	}
}

func TestAuthenticateReportsDenial(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuthenticator{}
	identity := NewLocalIdentityProvider(store, auth, "user-1")
	lock := New(store, identity)
	ctx := context.Background()

	ok, err := lock.Authenticate(ctx, 0, "confirm it's you")
	if err != nil {
		t.Fatalf("Authenticate: unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected Authenticate to report true when the authenticator approves")
	}

	auth.deny = true
	ok, err = lock.Authenticate(ctx, 0, "confirm it's you")
	if err != nil {
		t.Fatalf("Authenticate: unexpected error on denial: %v", err)
	}
	if ok {
		t.Fatalf("expected Authenticate to report false when the authenticator denies")
	}
}
