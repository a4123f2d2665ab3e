package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// Account is a named Civitai API key
type Account struct {
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific account name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific account name
	Delete(name string) error

	// Exists checks if credentials exist for an account name
	Exists(name string) bool
}

// Source names where a resolved API key came from.
const (
	SourceFlag        = "flag"
	SourceEnvironment = "environment"
	SourceAccount     = "account"
	SourceKeyFile     = "key file"
	SourceAnonymous   = "anonymous"
)

// Resolved is the outcome of ResolveAPIKey. An empty APIKey means anonymous
// access.
type Resolved struct {
	APIKey  string
	Source  string
	Account string
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores  []CredentialStore
	env     *EnvironmentStore
	keyFile *KeyFileStore
}

// NewManager creates a new credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	return &Manager{
		stores:  stores,
		env:     NewEnvironmentStore(),
		keyFile: NewKeyFileStore(DefaultKeyFile),
	}, nil
}

// NewManagerWithStores builds a Manager over explicit stores. The
// environment and key file sources are only consulted by ResolveAPIKey.
func NewManagerWithStores(env *EnvironmentStore, keyFile *KeyFileStore, stores ...CredentialStore) *Manager {
	return &Manager{stores: stores, env: env, keyFile: keyFile}
}

// Store saves credentials using the first available store
func (m *Manager) Store(account *Account) error {
	if account.Name == "" {
		return errors.New("account name is required")
	}
	if account.APIKey == "" {
		return errors.New("API key is required")
	}

	account.LastModified = time.Now()

	// Try each store in order
	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// defaultMarker is implemented by stores that remember a default account.
type defaultMarker interface {
	SetDefault(name string) error
	DefaultAccount() (string, error)
}

// SetDefault marks an existing account as the one used when none is named.
// The marker goes to the first store that can hold it.
func (m *Manager) SetDefault(name string) error {
	if _, err := m.Retrieve(name); err != nil {
		return err
	}
	for _, store := range m.stores {
		if marker, ok := store.(defaultMarker); ok {
			return marker.SetDefault(name)
		}
	}
	return ErrStoreUnavailable
}

// RetrieveDefault returns the marked default account, falling back to the
// most recently modified one when no marker is set or it is stale.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		marker, ok := store.(defaultMarker)
		if !ok {
			continue
		}
		if name, err := marker.DefaultAccount(); err == nil && name != "" {
			if account, err := m.Retrieve(name); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts from all stores, newest first
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Name < result[j].Name
	})

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}

	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Name) // Ignore individual errors
	}
	for _, store := range m.stores {
		if marker, ok := store.(defaultMarker); ok {
			_ = marker.SetDefault("")
		}
	}

	return nil
}

// ResolveAPIKey picks the key for a run. Precedence: flagKey, the
// CIVITSCRAPER_API_KEY environment variable, the named account (or the
// default stored one when account is empty), then the key file. Finding
// nothing is not an error; the run is anonymous. Naming an account that
// does not exist is an error.
func (m *Manager) ResolveAPIKey(flagKey, account string) (Resolved, error) {
	if flagKey != "" {
		return Resolved{APIKey: flagKey, Source: SourceFlag}, nil
	}

	if m.env != nil {
		if acc, err := m.env.Retrieve(""); err == nil {
			return Resolved{APIKey: acc.APIKey, Source: SourceEnvironment}, nil
		}
	}

	if account != "" {
		acc, err := m.Retrieve(account)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{APIKey: acc.APIKey, Source: SourceAccount, Account: acc.Name}, nil
	}
	if acc, err := m.RetrieveDefault(); err == nil {
		return Resolved{APIKey: acc.APIKey, Source: SourceAccount, Account: acc.Name}, nil
	}

	if m.keyFile != nil {
		if acc, err := m.keyFile.Retrieve(""); err == nil {
			return Resolved{APIKey: acc.APIKey, Source: SourceKeyFile}, nil
		}
	}

	return Resolved{Source: SourceAnonymous}, nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "civitscraper")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "civitscraper")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "civitscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "civitscraper")
		}
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the key masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Name:         account.Name,
		APIKey:       MaskKey(account.APIKey),
		LastModified: account.LastModified,
	}
}

// MaskKey masks all but the first 4 and last 4 characters of a key
func MaskKey(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrVaultLocked         = errors.New("credentials file cannot be decrypted with this passphrase")
)
