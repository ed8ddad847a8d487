package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "expense-approvals", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "expense_approvals", cfg.Database.Database)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  environment: staging
server:
  port: 9000
redis:
  addr: redis:6379
  lock_ttl: 5s
rate_limit:
  rps: 10
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("REDIS_LOCK_TTL", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Service.Environment)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 10.0, cfg.RateLimit.RPS)
	assert.Equal(t, 9086, cfg.Server.GRPCPort)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GRPC_PORT", "not-a-port")

	_, err := Load()
	assert.ErrorContains(t, err, "GRPC_PORT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.GRPCPort = cfg.Server.Port
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Service.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

	cfg.Auth.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}
