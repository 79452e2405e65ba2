package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestCredentialManager(t *testing.T) {
	mockStore := NewMockStore()
	manager := NewManagerWithStores(mockStore)

	account := &Account{Name: "agency", Token: "y0_AgAAAAABCDEFGHIJKLMNOP"}
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.LastModified.IsZero() {
		t.Error("LastModified should be set on store")
	}

	retrieved, err := manager.Retrieve("agency")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.Token != account.Token {
		t.Errorf("Token mismatch: got %s, want %s", retrieved.Token, account.Token)
	}

	def, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if def.Name != "agency" {
		t.Errorf("Expected the only account as default, got %s", def.Name)
	}

	if err := manager.Delete("agency"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("agency"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
	if mockStore.Count() != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", mockStore.Count())
	}
	if err := manager.Delete("agency"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound deleting twice, got %v", err)
	}
}

func TestManagerValidation(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore())

	if err := manager.Store(&Account{Token: "abc"}); err == nil {
		t.Error("Expected error for missing name")
	}
	if err := manager.Store(&Account{Name: "default"}); err == nil {
		t.Error("Expected error for missing token")
	}
}

func TestManagerFallsBackOnStoreError(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("keychain locked")
	fallback := NewMockStore()

	manager := NewManagerWithStores(failing, fallback)
	if err := manager.Store(&Account{Name: "default", Token: "token-value-123"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !fallback.Exists("default") {
		t.Error("Expected fallback store to receive the account")
	}

	failing.ListError = errors.New("keychain locked")
	accounts, err := manager.List()
	if err != nil || len(accounts) != 1 {
		t.Errorf("Expected one account, got %v (%v)", accounts, err)
	}
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{Name: "default", Token: "y0_AgAAAAABCDEFGHIJ"}

	sanitized := SanitizeAccount(account)
	if sanitized.Token != "y0_A...GHIJ" {
		t.Errorf("Unexpected masked token: %s", sanitized.Token)
	}
	if sanitized.Name != account.Name {
		t.Error("Name should not be masked")
	}
	if MaskString("short") != "********" {
		t.Error("Short strings should be fully masked")
	}
	if SanitizeAccount(nil) != nil {
		t.Error("Expected nil for nil account")
	}
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv("WMHARVEST_PASSPHRASE", "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	account := &Account{Name: "default", Token: "secret_oauth_token"}
	if err := store.Store(account); err != nil {
		t.Fatalf("Failed to store in encrypted file: %v", err)
	}

	retrieved, err := store.Retrieve("default")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.Token != account.Token {
		t.Error("Token mismatch after encryption/decryption")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(content, []byte("secret_oauth_token")) {
		t.Error("File contains plaintext token")
	}

	// A different passphrase cannot read the file
	t.Setenv("WMHARVEST_PASSPHRASE", "other")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Retrieve("default"); err == nil {
		t.Error("Expected decryption failure with wrong passphrase")
	}

	t.Setenv("WMHARVEST_PASSPHRASE", "test_passphrase_123")
	if err := store.Delete("default"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("File should be removed with the last account")
	}
}

func TestEncryptedFileStoreGeneratedPassphrase(t *testing.T) {
	t.Setenv("WMHARVEST_PASSPHRASE", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Store(&Account{Name: "a", Token: "token-a"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".passphrase")); err != nil {
		t.Fatalf("Expected generated passphrase file: %v", err)
	}

	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := reopened.List()
	if err != nil || len(accounts) != 1 {
		t.Errorf("Expected one account after reopen, got %v (%v)", accounts, err)
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("WMHARVEST_TOKEN", "env_token")
	t.Setenv("WMHARVEST_ACCOUNT", "")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if account.Token != "env_token" || account.Name != DefaultAccount {
		t.Errorf("Unexpected account: %+v", account)
	}
	if _, err := store.Retrieve("agency"); err != ErrCredentialsNotFound {
		t.Errorf("Expected ErrCredentialsNotFound for other account, got %v", err)
	}
	if err := store.Store(&Account{}); err != ErrStoreUnavailable {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}

	t.Setenv("WMHARVEST_TOKEN", "")
	if store.Exists("") {
		t.Error("Expected no environment token")
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("Mock keyring should be available: %v", err)
	}

	store.Store(&Account{Name: "b", Token: "token-b"})
	store.Store(&Account{Name: "a", Token: "token-a"})
	store.Store(&Account{Name: "a", Token: "token-a2"})

	accounts, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Name != "a" || accounts[0].Token != "token-a2" {
		t.Errorf("Unexpected accounts: %+v", accounts)
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists("a") {
		t.Error("Account should be deleted")
	}
	if err := store.Delete("a"); err != ErrCredentialsNotFound {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}

	accounts, _ = store.List()
	if len(accounts) != 1 || accounts[0].Name != "b" {
		t.Errorf("Unexpected accounts after delete: %+v", accounts)
	}
}

func TestEncryptedFileStoreSealsEntriesSeparately(t *testing.T) {
	t.Setenv("WMHARVEST_PASSPHRASE", "vault_passphrase")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "agency"} {
		if err := store.Store(&Account{Name: name, Token: "token-" + name}); err != nil {
			t.Fatal(err)
		}
	}

	accounts, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Name != "agency" || accounts[1].Name != "zeta" {
		t.Errorf("Expected accounts sorted by name, got %v", accounts)
	}

	// Names are readable without the key
	t.Setenv("WMHARVEST_PASSPHRASE", "wrong")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if !other.Exists("agency") {
		t.Error("Exists should not need to decrypt")
	}
	if _, err := other.List(); err == nil {
		t.Error("Expected List to fail with the wrong passphrase")
	}
}
