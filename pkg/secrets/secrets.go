// Package secrets resolves runtime credentials from HashiCorp Vault with
// environment-variable fallback. The server overlays the database, Redis,
// and OpenAI credentials through here so Vault-backed deployments never
// carry them in the process environment.
package secrets

import (
	"context"
	"errors"
	"sync"

	"karmika-sahayak/backend/pkg/logger"
)

// ErrManagerNotInitialized is returned when GetSecret runs before Init.
var ErrManagerNotInitialized = errors.New("secrets manager not initialized")

// Manager resolves secrets by key.
type Manager interface {
	// GetSecret retrieves a secret by key.
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret, falling back to
	// defaultValue when the key cannot be resolved.
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	defaultManager Manager
	managerOnce    sync.Once
)

// Init builds the default Vault-backed manager from the VAULT_* environment.
// Without VAULT_ADDR the manager still works, resolving keys from the
// environment only.
func Init(log *logger.Logger) error {
	var err error
	managerOnce.Do(func() {
		manager, initErr := NewVaultManager(log)
		if initErr != nil {
			err = initErr
			return
		}
		defaultManager = manager
	})
	return err
}

// GetSecret resolves a key through the default manager.
func GetSecret(ctx context.Context, key string) (string, error) {
	if defaultManager == nil {
		return "", ErrManagerNotInitialized
	}
	return defaultManager.GetSecret(ctx, key)
}

// GetSecretWithDefault resolves a key through the default manager, falling
// back to defaultValue when unresolved or uninitialized.
func GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	if defaultManager == nil {
		return defaultValue
	}
	return defaultManager.GetSecretWithDefault(ctx, key, defaultValue)
}

// SetManager replaces the default manager. Used by tests.
func SetManager(manager Manager) {
	defaultManager = manager
}
