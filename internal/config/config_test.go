package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CAPSULE_SECRET", "CAPSULE_PUBLIC", "CAPSULE_LEDGER",
		"CAPSULE_DEPLOY_COMMAND", "CAPSULE_DEPLOY_TIMEOUT", "CAPSULE_HTTP_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"pnpm", "deploy:capsule"}, cfg.DeployCommand)
	assert.Equal(t, time.Duration(0), cfg.DeployTimeout)
	assert.Equal(t, ":8787", cfg.HTTPAddr)
	assert.Empty(t, cfg.SecretKey)
	assert.Empty(t, cfg.PublicKey)
	assert.Empty(t, cfg.LedgerPath)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPSULE_SECRET", "c2VjcmV0")
	t.Setenv("CAPSULE_PUBLIC", "cHVibGlj")
	t.Setenv("CAPSULE_LEDGER", "/var/lib/capsule/ledger.db")
	t.Setenv("CAPSULE_DEPLOY_COMMAND", "./scripts/deploy.sh --fast")
	t.Setenv("CAPSULE_DEPLOY_TIMEOUT", "90s")
	t.Setenv("CAPSULE_HTTP_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0", cfg.SecretKey)
	assert.Equal(t, "cHVibGlj", cfg.PublicKey)
	assert.Equal(t, "/var/lib/capsule/ledger.db", cfg.LedgerPath)
	assert.Equal(t, []string{"./scripts/deploy.sh", "--fast"}, cfg.DeployCommand)
	assert.Equal(t, 90*time.Second, cfg.DeployTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
}

func TestLoadBadTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPSULE_DEPLOY_TIMEOUT", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "parse env:")
}

func TestLoadNegativeTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPSULE_DEPLOY_TIMEOUT", "-5s")

	_, err := Load()
	assert.ErrorContains(t, err, "must not be negative")
}
