package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "TIMING_SCALE_FACTOR", "SESSION_CLEANUP_INTERVAL_MS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1.0, cfg.Timing.ScaleFactor)
	assert.Equal(t, 120000*time.Millisecond, cfg.Timing.SessionCleanupInterval)
	assert.Equal(t, 100, cfg.Timing.MinAudioDataLength)
}

func TestTimingScaleFactorAppliesFloor(t *testing.T) {
	os.Setenv("TIMING_SCALE_FACTOR", "0.0001")
	t.Cleanup(func() { os.Unsetenv("TIMING_SCALE_FACTOR") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, timingFloor, cfg.Timing.SessionCleanupInterval)
	assert.Equal(t, timingFloor, cfg.Timing.InvalidClassroomMessageDelay)
}

func TestLoadParsesAdminAPIKeysList(t *testing.T) {
	os.Setenv("ADMIN_API_KEYS", "key-one, key-two ,key-three")
	t.Cleanup(func() { os.Unsetenv("ADMIN_API_KEYS") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"key-one", "key-two", "key-three"}, cfg.Security.AdminAPIKeys)
}

func TestLoadDefaultsToNoAdminAPIKeys(t *testing.T) {
	clearEnv(t, "ADMIN_API_KEYS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Security.AdminAPIKeys)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 70000},
		Storage:  StorageConfig{Driver: "sqlite"},
		Security: SecurityConfig{},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresJWTSecretWhenAdminEnabled(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080},
		Storage:  StorageConfig{Driver: "sqlite"},
		Security: SecurityConfig{EnableAdmin: true, JWTSecret: ""},
	}
	assert.Error(t, cfg.Validate())

	cfg.Security.JWTSecret = "a-sufficiently-long-secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresDSNForPostgres(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080},
		Storage:  StorageConfig{Driver: "postgres"},
		Security: SecurityConfig{EnableAdmin: false},
	}
	assert.Error(t, cfg.Validate())

	cfg.Storage.DSN = "postgres://localhost/relay"
	assert.NoError(t, cfg.Validate())
}
