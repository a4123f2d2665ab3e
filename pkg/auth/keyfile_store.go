package auth

import (
	"os"
	"strings"

	"civitscraper/pkg/storage"
)

// DefaultKeyFile is looked up in the working directory.
const DefaultKeyFile = "civitai_api_key.txt"

// KeyFileStore reads a single API key from a plain text file. Surrounding
// whitespace is ignored and an empty file counts as missing.
type KeyFileStore struct {
	path string
}

// NewKeyFileStore creates a store backed by path
func NewKeyFileStore(path string) *KeyFileStore {
	return &KeyFileStore{path: path}
}

// Path returns the file the key is read from
func (k *KeyFileStore) Path() string {
	return k.path
}

// Store writes the key, replacing any previous one
func (k *KeyFileStore) Store(account *Account) error {
	if account == nil || account.APIKey == "" {
		return ErrInvalidCredentials
	}
	return storage.WriteFileAtomic(k.path, []byte(account.APIKey+"\n"), 0600)
}

// Retrieve reads the key. The name is only echoed back.
func (k *KeyFileStore) Retrieve(name string) (*Account, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, ErrCredentialsNotFound
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return nil, ErrCredentialsNotFound
	}
	if name == "" {
		name = "key file"
	}

	account := &Account{Name: name, APIKey: key}
	if info, err := os.Stat(k.path); err == nil {
		account.LastModified = info.ModTime()
	}
	return account, nil
}

// List returns the key file account when one is present
func (k *KeyFileStore) List() ([]*Account, error) {
	account, err := k.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete removes the key file
func (k *KeyFileStore) Delete(name string) error {
	if err := os.Remove(k.path); err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialsNotFound
		}
		return err
	}
	return nil
}

// Exists checks if a non-empty key file exists
func (k *KeyFileStore) Exists(name string) bool {
	_, err := k.Retrieve(name)
	return err == nil
}
