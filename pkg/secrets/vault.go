package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"

	"karmika-sahayak/backend/pkg/logger"
)

// ErrSecretNotFound is returned when a key resolves neither in Vault nor
// in the environment.
var ErrSecretNotFound = errors.New("secret not found")

var (
	errNoVaultToken   = errors.New("no vault token provided")
	errNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig locates one KV v2 document holding this service's secrets.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	Mount     string
	Path      string
	Timeout   time.Duration
	Enabled   bool
}

// vaultConfigFromEnv reads the VAULT_* variables. VAULT_SECRETS_PATH may be
// "mount/path" or a bare path under the default "secret" mount; a "data/"
// segment pasted from the KV v2 HTTP path is tolerated.
func vaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Address:   os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     "secret",
		Path:      "karmika-sahayak",
		Timeout:   10 * time.Second,
	}

	cfg.Enabled = cfg.Address != ""
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Enabled = v == "true" || v == "1" || v == "yes"
	}

	if p := strings.Trim(os.Getenv("VAULT_SECRETS_PATH"), "/"); p != "" {
		if mount, rest, ok := strings.Cut(p, "/"); ok {
			cfg.Mount = mount
			cfg.Path = strings.TrimPrefix(rest, "data/")
		} else {
			cfg.Path = p
		}
	}

	return cfg
}

// VaultManager serves secrets out of a single KV v2 document, re-reading
// it when the cached copy ages out. Keys missing from the document fall
// back to environment variables.
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	log    *logger.Logger

	mu        sync.Mutex
	doc       map[string]string
	fetchedAt time.Time
	ttl       time.Duration
}

// NewVaultManager builds a manager from the VAULT_* environment. With
// Vault disabled the manager resolves from the environment only.
func NewVaultManager(log *logger.Logger) (*VaultManager, error) {
	config := vaultConfigFromEnv()

	m := &VaultManager{
		config: config,
		log:    log,
		ttl:    5 * time.Minute,
	}
	if !config.Enabled {
		return m, nil
	}

	if config.Address == "" {
		return nil, errNoVaultAddress
	}
	if config.Token == "" {
		return nil, errNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	m.client = client

	return m, nil
}

// GetSecret resolves key from the cached document, re-reading Vault when
// stale, then falls back to the environment.
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if m.client != nil {
		if value, ok := m.lookup(ctx, key); ok {
			return value, nil
		}
	}
	return m.getFromEnvironment(key)
}

// GetSecretWithDefault resolves key, returning defaultValue when it is
// found nowhere.
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		m.log.Debug("Secret unresolved, using default", "key", key)
		return defaultValue
	}
	return value
}

func (m *VaultManager) lookup(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil || time.Since(m.fetchedAt) > m.ttl {
		if err := m.refreshLocked(ctx); err != nil {
			m.log.Warn("Vault read failed, falling back to environment",
				"mount", m.config.Mount,
				"path", m.config.Path,
				"error", err.Error(),
			)
			// A stale document still beats no document.
		}
	}

	value, ok := m.doc[key]
	return value, ok
}

// refreshLocked reads the whole secret document in one call. Callers hold mu.
func (m *VaultManager) refreshLocked(ctx context.Context) error {
	secret, err := m.client.KVv2(m.config.Mount).Get(ctx, m.config.Path)
	if err != nil {
		return err
	}
	if secret == nil || secret.Data == nil {
		return ErrSecretNotFound
	}

	doc := make(map[string]string, len(secret.Data))
	for k, v := range secret.Data {
		if s, ok := v.(string); ok {
			doc[k] = s
		}
	}

	m.doc = doc
	m.fetchedAt = time.Now()
	m.log.Debug("Vault secrets refreshed", "path", m.config.Path, "keys", len(doc))
	return nil
}

// getFromEnvironment maps snake_case, kebab-case, or dotted keys to the
// conventional UPPER_SNAKE environment name.
func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))

	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
