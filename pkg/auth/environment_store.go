package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads a single token from WMHARVEST_TOKEN. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment token for the configured account name
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv("WMHARVEST_TOKEN")
	if token == "" {
		return nil, ErrCredentialsNotFound
	}

	envName := os.Getenv("WMHARVEST_ACCOUNT")
	if envName == "" {
		envName = DefaultAccount
	}
	if name != "" && name != envName {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Name:         envName,
		Token:        token,
		LastModified: time.Time{},
	}, nil
}

// List returns the environment account if one is set
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

// Exists checks if an environment token is set
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
