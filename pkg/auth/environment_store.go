package auth

import (
	"os"
	"strings"
	"time"
)

// APIKeyEnv is the environment variable holding a Civitai API key.
const APIKeyEnv = "CIVITSCRAPER_API_KEY"

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets the key from the environment. The name is only echoed back.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	key := strings.TrimSpace(os.Getenv(APIKeyEnv))
	if key == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "environment"
	}

	return &Account{
		Name:         name,
		APIKey:       key,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if the environment variable is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return strings.TrimSpace(os.Getenv(APIKeyEnv)) != ""
}
