package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "")
	t.Setenv("LOGIN_LIMITER", "")
	t.Setenv("BCRYPT_COST", "")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("SESSION_REGISTRY", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxies, "no proxy is trusted by default")
	assert.Equal(t, LimiterMemory, cfg.SessionRegistry)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "debug", cfg.GinMode)
	assert.Equal(t, LimiterMemory, cfg.LoginLimiter)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "demo.db", cfg.DatabasePath)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BCRYPT_COST", "12")
	t.Setenv("LOGIN_LIMITER", LimiterRedis)
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SEED_ADMIN_USERNAME", "root")
	t.Setenv("SESSION_REGISTRY", LimiterRedis)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 192.168.0.0/16,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, LimiterRedis, cfg.LoginLimiter)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "root", cfg.SeedAdminUsername)
	assert.Equal(t, LimiterRedis, cfg.SessionRegistry)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.TrustedProxies)
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("BCRYPT_COST", "high")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BcryptCost)
}

func TestValidate(t *testing.T) {
	base := Config{GinMode: "debug", LoginLimiter: LimiterMemory, SessionRegistry: LimiterMemory, DatabasePath: "x.db"}
	require.NoError(t, base.Validate())

	c := base
	c.LoginLimiter = "memcached"
	assert.Error(t, c.Validate())

	c = base
	c.SessionRegistry = ""
	assert.Error(t, c.Validate())

	c = base
	c.TrustedProxies = []string{"10.0.0.0/8", "not-an-ip"}
	assert.Error(t, c.Validate())

	c = base
	c.DatabasePath = ""
	assert.Error(t, c.Validate())

	c = base
	c.GinMode = "release"
	assert.Error(t, c.Validate(), "release mode requires a session secret")

	c.SessionSecret = "short"
	assert.Error(t, c.Validate())

	c.SessionSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, c.Validate())
}
