package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"wmharvest/pkg/atomicfile"
)

const (
	vaultVersion    = 2
	saltSize        = 32
	keySize         = 32
	kdfIterations   = 100000
	passphraseEnv   = "WMHARVEST_PASSPHRASE"
	passphraseFile  = ".passphrase"
	passphraseBytes = 32
)

// EncryptedFileStore keeps tokens in a JSON vault where every account is sealed
// on its own with AES-GCM. The key is derived with PBKDF2 from WMHARVEST_PASSPHRASE,
// or from a generated passphrase kept next to the vault.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

// vault is the on-disk layout. Names stay readable so that List and Delete
// never need to decrypt unrelated entries.
type vault struct {
	Version  int               `json:"version"`
	Salt     string            `json:"salt"`
	Entries  map[string]string `json:"entries"`
	Modified time.Time         `json:"modified"`
}

// NewEncryptedFileStore creates a store backed by path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := resolvePassphrase(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store seals account into the vault, replacing an entry with the same name
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	switch {
	case os.IsNotExist(err):
		if v, err = newVault(); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	box, err := e.sealer(v)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	sealed, err := box.seal(plain)
	if err != nil {
		return err
	}
	v.Entries[account.Name] = sealed
	return e.write(v)
}

// Retrieve opens a single account
func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}

	sealed, ok := v.Entries[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	box, err := e.sealer(v)
	if err != nil {
		return nil, err
	}
	return openAccount(box, sealed)
}

// List opens every account, sorted by name
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	box, err := e.sealer(v)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(v.Entries))
	for name := range v.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := openAccount(box, v.Entries[name])
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete drops an entry. The vault file goes away with its last entry.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if os.IsNotExist(err) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := v.Entries[name]; !ok {
		return ErrCredentialsNotFound
	}

	delete(v.Entries, name)
	if len(v.Entries) == 0 {
		return os.Remove(e.path)
	}
	return e.write(v)
}

// Exists reports whether name has an entry, without decrypting it
func (e *EncryptedFileStore) Exists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return false
	}
	_, ok := v.Entries[name]
	return ok
}

func (e *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse token vault: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported token vault version %d", v.Version)
	}
	if v.Entries == nil {
		v.Entries = make(map[string]string)
	}
	return &v, nil
}

func (e *EncryptedFileStore) write(v *vault) error {
	v.Modified = time.Now()
	return atomicfile.Write(e.path, 0600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func (e *EncryptedFileStore) sealer(v *vault) (*sealer, error) {
	salt, err := base64.StdEncoding.DecodeString(v.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	return newSealer(e.passphrase, salt)
}

func newVault() (*vault, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &vault{
		Version: vaultVersion,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make(map[string]string),
	}, nil
}

func openAccount(box *sealer, sealed string) (*Account, error) {
	plain, err := box.open(sealed)
	if err != nil {
		return nil, err
	}
	var account Account
	if err := json.Unmarshal(plain, &account); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &account, nil
}

// sealer wraps an AEAD keyed from the passphrase and the vault salt
type sealer struct {
	aead cipher.AEAD
}

func newSealer(passphrase string, salt []byte) (*sealer, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal returns base64(nonce || ciphertext)
func (s *sealer) seal(plain []byte) (string, error) {
	nonce, err := randomBytes(s.aead.NonceSize())
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, plain, nil)), nil
}

func (s *sealer) open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return nil, errors.New("sealed entry too short")
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt entry, wrong passphrase? %w", err)
	}
	return plain, nil
}

// resolvePassphrase prefers the environment, then the passphrase file in dir,
// creating one on first use
func resolvePassphrase(dir string) (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil {
		if pass := strings.TrimSpace(string(content)); pass != "" {
			return pass, nil
		}
	}

	raw, err := randomBytes(passphraseBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := base64.URLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
