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
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"civitscraper/pkg/storage"
)

const (
	vaultVersion    = 2
	vaultKDF        = "pbkdf2-sha256"
	vaultIterations = 100000
	vaultSaltSize   = 16
	vaultKeySize    = 32
)

// PassphraseEnv overrides the generated passphrase of the encrypted store.
const PassphraseEnv = "CIVITSCRAPER_PASSPHRASE"

// passphraseFile holds the generated passphrase beside the vault.
const passphraseFile = ".passphrase"

// EncryptedFileStore keeps every account and the default-account marker in
// a single AES-GCM sealed vault file. The passphrase comes from
// PassphraseEnv, or from a generated ".passphrase" key file in the same
// directory.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// vault is the decrypted content of the file.
type vault struct {
	Default  string             `json:"default,omitempty"`
	Accounts map[string]Account `json:"accounts"`
}

// envelope is the on-disk form. The KDF parameters travel with the data so
// they can change without breaking existing files.
type envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewEncryptedFileStore opens the vault at path, creating its directory and
// passphrase as needed. The vault file itself is only written on the first
// change.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := loadPassphrase(filepath.Join(dir, passphraseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// loadPassphrase reads the passphrase through the same key file code path
// used for civitai_api_key.txt, generating one on first use.
func loadPassphrase(path string) (string, error) {
	if p := strings.TrimSpace(os.Getenv(PassphraseEnv)); p != "" {
		return p, nil
	}

	file := NewKeyFileStore(path)
	if acc, err := file.Retrieve(""); err == nil {
		return acc.APIKey, nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	passphrase := base64.RawURLEncoding.EncodeToString(secret)
	if err := file.Store(&Account{APIKey: passphrase}); err != nil {
		return "", fmt.Errorf("save passphrase: %w", err)
	}
	return passphrase, nil
}

// Store adds or replaces an account
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(v *vault) error {
		v.Accounts[account.Name] = *account
		return nil
	})
}

// Retrieve returns the named account
func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	account, ok := v.Accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// List returns every account in the vault
func (e *EncryptedFileStore) List() ([]*Account, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(v.Accounts))
	for name := range v.Accounts {
		account := v.Accounts[name]
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

// Delete removes an account and clears the default marker when it named
// that account. The file is removed once nothing is left in it.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(v *vault) error {
		if _, ok := v.Accounts[name]; !ok && v.Default != name {
			return ErrCredentialsNotFound
		}
		delete(v.Accounts, name)
		if v.Default == name {
			v.Default = ""
		}
		return nil
	})
}

// Exists checks if the named account is in the vault
func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

// SetDefault records name as the account to use when none is given. The
// account may live in another store; an empty name clears the marker.
func (e *EncryptedFileStore) SetDefault(name string) error {
	return e.update(func(v *vault) error {
		v.Default = name
		return nil
	})
}

// DefaultAccount returns the marked default account, or "" when unset.
func (e *EncryptedFileStore) DefaultAccount() (string, error) {
	v, err := e.view()
	if err != nil {
		return "", err
	}
	return v.Default, nil
}

func (e *EncryptedFileStore) view() (*vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.read()
}

// update applies fn to the vault and saves the result under one lock.
func (e *EncryptedFileStore) update(fn func(v *vault) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	return e.write(v)
}

func (e *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &vault{Accounts: make(map[string]Account)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return openVault(content, e.passphrase)
}

func (e *EncryptedFileStore) write(v *vault) error {
	if len(v.Accounts) == 0 && v.Default == "" {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}
		return nil
	}

	content, err := sealVault(v, e.passphrase)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(e.path, content, 0600)
}

// sealVault encrypts v under a fresh salt and nonce.
func sealVault(v *vault, passphrase string) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vault: %w", err)
	}

	env := envelope{
		Version:    vaultVersion,
		KDF:        vaultKDF,
		Iterations: vaultIterations,
		Salt:       make([]byte, vaultSaltSize),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := vaultCipher(passphrase, env.Salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	env.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, plain, envelopeHeader(env))

	return json.MarshalIndent(env, "", "  ")
}

// openVault checks the envelope and decrypts it. A wrong passphrase and a
// tampered file both surface as ErrVaultLocked.
func openVault(content []byte, passphrase string) (*vault, error) {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if env.Version != vaultVersion || env.KDF != vaultKDF || env.Iterations <= 0 {
		return nil, fmt.Errorf("unsupported credentials file (version %d, kdf %q)", env.Version, env.KDF)
	}

	aead, err := vaultCipher(passphrase, env.Salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("credentials file has a %d byte nonce, want %d", len(env.Nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, env.Nonce, env.Ciphertext, envelopeHeader(env))
	if err != nil {
		return nil, ErrVaultLocked
	}

	v := &vault{}
	if err := json.Unmarshal(plain, v); err != nil {
		return nil, fmt.Errorf("failed to decode vault: %w", err)
	}
	if v.Accounts == nil {
		v.Accounts = make(map[string]Account)
	}
	return v, nil
}

func vaultCipher(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// envelopeHeader binds the KDF parameters to the ciphertext.
func envelopeHeader(env envelope) []byte {
	return []byte(fmt.Sprintf("civitscraper/v%d/%s/%d", env.Version, env.KDF, env.Iterations))
}
