package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

// TestSystemKeyringSetGetDelete tests full CRUD operations through go-keyring's
// in-memory provider.
func TestSystemKeyringSetGetDelete(t *testing.T) {
	keyring.MockInit()

	var sysKeyring Keyring = &systemKeyring{}

	service := "mineat-test-keyring-crud"
	account := "testuser"
	token := "token-123"

	if err := sysKeyring.Set(service, account, token); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := sysKeyring.Get(service, account)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved != token {
		t.Errorf("Expected token %q, got %q", token, retrieved)
	}

	if err := sysKeyring.Delete(service, account); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err = sysKeyring.Get(service, account)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deletion, got %v", err)
	}
}

// TestSystemKeyringUnsupported verifies platform errors become ErrKeyringNotAvailable
func TestSystemKeyringUnsupported(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrUnsupportedPlatform)
	t.Cleanup(keyring.MockInit)

	err := (&systemKeyring{}).Set("mineat-test", "user", "token")
	if !errors.Is(err, ErrKeyringNotAvailable) {
		t.Errorf("Expected ErrKeyringNotAvailable, got %v", err)
	}
}

// TestSystemKeyringBackendFailure verifies other keyring failures are wrapped
func TestSystemKeyringBackendFailure(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: session bus not found"))
	t.Cleanup(keyring.MockInit)

	_, err := (&systemKeyring{}).Get("mineat-test", "user")
	if !errors.Is(err, ErrKeyringNotAvailable) {
		t.Errorf("Expected ErrKeyringNotAvailable, got %v", err)
	}
}

// TestMockKeyringNotFound verifies the mock reports ErrNotFound
func TestMockKeyringNotFound(t *testing.T) {
	m := NewMockKeyring()
	if _, err := m.Get("svc", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := m.Delete("svc", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}
