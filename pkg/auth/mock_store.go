package auth

import "sync"

// MockStore is an in-memory CredentialStore that also remembers a default
// account. Setting StoreError or ListError makes those calls fail.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	def      string

	StoreError error
	ListError  error
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]Account)}
}

// NewMockManager creates a Manager over one mock store, without the
// environment or key file sources.
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(nil, nil, store), store
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = *account
	return nil
}

func (m *MockStore) Retrieve(name string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *MockStore) List() ([]*Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	accounts := make([]*Account, 0, len(m.accounts))
	for name := range m.accounts {
		account := m.accounts[name]
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, name)
	if m.def == name {
		m.def = ""
	}
	return nil
}

func (m *MockStore) Exists(name string) bool {
	_, err := m.Retrieve(name)
	return err == nil
}

func (m *MockStore) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.def = name
	return nil
}

func (m *MockStore) DefaultAccount() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def, nil
}

// Clear drops every account and the default marker
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]Account)
	m.def = ""
}

// Count is the number of stored accounts
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
