package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsWithSecretOverlay(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PSI_JWT_SECRET", "s3cret")
	t.Setenv("PSI_DB_PASSWORD", "pw")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "notifications", cfg.Redis.Channel)
	assert.Equal(t, 10*time.Minute, cfg.License.PlanCacheTTL)
	assert.Zero(t, cfg.Invitation.TTL)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "pw", cfg.Database.Password)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	yaml := []byte("server:\n  port: 9090\nstorage:\n  driver: memory\ninvitation:\n  ttl: 72h\njwt:\n  secret: from-file\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("PSI_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Invitation.TTL)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: "mongo"}, JWT: JWTConfig{Secret: "x"}, Outbox: OutboxConfig{BatchSize: 1}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: StorageDriverMemory}, Outbox: OutboxConfig{BatchSize: 1}}
	assert.Error(t, cfg.Validate())
}
