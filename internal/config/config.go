// Package config loads the relay's environment-variable configuration
// surface into typed, pre-scaled durations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Storage  StorageConfig
	Timing   TimingConfig
	Provider ProviderConfig
	Logging  LoggingConfig
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string
	Port        int
	EnableHTTP3 bool
	TLSCertFile string
	TLSKeyFile  string
}

// SecurityConfig controls admin auth and rate limiting on the HTTP surface.
type SecurityConfig struct {
	JWTSecret      string
	EnableAdmin    bool
	AdminAPIKeys   []string
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
}

// StorageConfig selects and configures the Durable Store backend.
type StorageConfig struct {
	Driver   string // "postgres" | "sqlite"
	DSN      string
	RedisURL string
}

// ProviderConfig controls the Translation Provider Facade's external calls.
type ProviderConfig struct {
	CallTimeout time.Duration
	MaxRetries  int
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// TimingConfig holds every configurable timeout, already
// scaled by ScaleFactor and floored, so callers never touch raw env values.
type TimingConfig struct {
	ScaleFactor float64

	ClassroomCodeExpiration        time.Duration
	ClassroomCodeCleanupInterval   time.Duration
	SessionStaleTimeout            time.Duration
	SessionAllStudentsLeftTimeout  time.Duration
	SessionEmptyTeacherTimeout     time.Duration
	SessionCleanupInterval         time.Duration
	SessionVeryShortThreshold      time.Duration
	HealthCheckInterval            time.Duration
	TeacherReconnectionGracePeriod time.Duration
	SessionExpiredMessageDelay     time.Duration
	InvalidClassroomMessageDelay   time.Duration
	MinSessionDuration             time.Duration
	ActivityCoalesceWindow         time.Duration
	ActiveCountRefreshInterval     time.Duration
	TeacherEndedRecentWindow       time.Duration

	MinAudioDataLength        int
	EnableDetailedTranslation bool
}

// timingFloor is the minimum any scaled timeout is allowed to collapse to,
// so an aggressive test scale factor never produces a busy-loop.
const timingFloor = 200 * time.Millisecond

// Load reads configuration from the process environment, applying the
// environment's defaults.
func Load() (*Config, error) {
	scale := getEnvFloat("TIMING_SCALE_FACTOR", 1.0)

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("HOST", "0.0.0.0"),
			Port:        getEnvInt("PORT", 8080),
			EnableHTTP3: getEnvBool("ENABLE_HTTP3", false),
			TLSCertFile: getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
		},
		Security: SecurityConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			EnableAdmin:    getEnvBool("ENABLE_ADMIN_AUTH", true),
			AdminAPIKeys:   getEnvList("ADMIN_API_KEYS"),
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
			CORSOrigins:    []string{getEnv("CORS_ORIGINS", "*")},
		},
		Storage: StorageConfig{
			Driver:   getEnv("STORAGE_DRIVER", "postgres"),
			DSN:      getEnv("DATABASE_URL", ""),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Provider: ProviderConfig{
			CallTimeout: scaled(getEnvDuration("PROVIDER_CALL_TIMEOUT_MS", 30000*time.Millisecond), scale),
			MaxRetries:  getEnvInt("PROVIDER_MAX_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Timing: TimingConfig{
			ScaleFactor: scale,

			ClassroomCodeExpiration:        scaled(getEnvDuration("CLASSROOM_CODE_EXPIRATION_MS", 7200000*time.Millisecond), scale),
			ClassroomCodeCleanupInterval:   scaled(getEnvDuration("CLASSROOM_CODE_CLEANUP_INTERVAL_MS", 900000*time.Millisecond), scale),
			SessionStaleTimeout:            scaled(getEnvDuration("SESSION_STALE_TIMEOUT_MS", 5400000*time.Millisecond), scale),
			SessionAllStudentsLeftTimeout:  scaled(getEnvDuration("SESSION_ALL_STUDENTS_LEFT_TIMEOUT_MS", 600000*time.Millisecond), scale),
			SessionEmptyTeacherTimeout:     scaled(getEnvDuration("SESSION_EMPTY_TEACHER_TIMEOUT_MS", 900000*time.Millisecond), scale),
			SessionCleanupInterval:         scaled(getEnvDuration("SESSION_CLEANUP_INTERVAL_MS", 120000*time.Millisecond), scale),
			SessionVeryShortThreshold:      scaled(getEnvDuration("SESSION_VERY_SHORT_THRESHOLD_MS", 5000*time.Millisecond), scale),
			HealthCheckInterval:            scaled(getEnvDuration("HEALTH_CHECK_INTERVAL_MS", 30000*time.Millisecond), scale),
			TeacherReconnectionGracePeriod: scaled(getEnvDuration("TEACHER_RECONNECTION_GRACE_PERIOD_MS", 300000*time.Millisecond), scale),
			SessionExpiredMessageDelay:     scaled(getEnvDuration("SESSION_EXPIRED_MESSAGE_DELAY_MS", 1000*time.Millisecond), scale),
			InvalidClassroomMessageDelay:   scaled(getEnvDuration("INVALID_CLASSROOM_MESSAGE_DELAY_MS", 100*time.Millisecond), scale),
			MinSessionDuration:             scaled(30000*time.Millisecond, scale),
			ActivityCoalesceWindow:         scaled(30000*time.Millisecond, scale),
			ActiveCountRefreshInterval:     scaled(30000*time.Millisecond, scale),
			TeacherEndedRecentWindow:       scaled(10*time.Minute, scale),

			MinAudioDataLength:        getEnvInt("MIN_AUDIO_DATA_LENGTH", 100),
			EnableDetailedTranslation: getEnvBool("ENABLE_DETAILED_TRANSLATION_LOGGING", false),
		},
	}

	return cfg, nil
}

// scaled multiplies d by factor and applies the timing floor.
func scaled(d time.Duration, factor float64) time.Duration {
	out := time.Duration(float64(d) * factor)
	if out < timingFloor {
		return timingFloor
	}
	return out
}

// Validate rejects configurations that
// would otherwise fail deep inside a component at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.EnableHTTP3 && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS certificate and key files are required when HTTP/3 is enabled")
	}
	if c.Security.EnableAdmin && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required when admin auth is enabled")
	}
	if c.Storage.Driver != "postgres" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList reads a comma-separated env var into a trimmed, non-empty slice.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvDuration reads a millisecond integer env var into a time.Duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}
