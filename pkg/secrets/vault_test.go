package secrets

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmika-sahayak/backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

func TestVaultConfigFromEnvPathParsing(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_ENABLED", "")

	t.Setenv("VAULT_SECRETS_PATH", "kv/data/sahayak")
	cfg := vaultConfigFromEnv()
	assert.Equal(t, "kv", cfg.Mount)
	assert.Equal(t, "sahayak", cfg.Path)
	assert.False(t, cfg.Enabled)

	t.Setenv("VAULT_SECRETS_PATH", "sahayak-prod")
	cfg = vaultConfigFromEnv()
	assert.Equal(t, "secret", cfg.Mount)
	assert.Equal(t, "sahayak-prod", cfg.Path)
}

func TestDisabledManagerResolvesFromEnvironment(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_ENABLED", "")
	t.Setenv("BOARD_API_TOKEN", "tok-env")

	m, err := NewVaultManager(quietLogger())
	require.NoError(t, err)

	value, err := m.GetSecret(context.Background(), "board-api.token")
	require.NoError(t, err)
	assert.Equal(t, "tok-env", value)

	_, err = m.GetSecret(context.Background(), "no_such_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.Equal(t, "fallback",
		m.GetSecretWithDefault(context.Background(), "no_such_key", "fallback"))
}
