package config

import (
	"time"

	"rota/internal/domain"
	"rota/internal/support"
)

// Config carries process-level configuration resolved from the environment.
// Values that are also persisted in the settings row (rotation, retries,
// timeouts, auth, rate limits, egress) act as seeds for that row; once the
// row exists it is authoritative and ApplySettings folds it back in.
type Config struct {
	ProxyPort int
	APIPort   int

	RotationStrategy string
	RotationInterval time.Duration
	MaxRetries       int
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration

	AuthEnabled  bool
	AuthUsername string
	AuthPassword string

	RateLimitEnabled   bool
	RateLimitPerSecond float64
	RateLimitBurst     int

	EgressProxyURL string

	HealthCheckInterval    time.Duration
	HealthCheckConcurrency int
	HealthCheckURL         string

	JWTSecret         string
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	LogLevel               string
	LogRetentionDays       int
	AutoDeleteAfterSeconds int
	HeartbeatInterval      time.Duration
	GeoIPDatabasePath      string
}

func Load() Config {
	return Config{
		ProxyPort: support.GetEnvInt("PROXY_PORT", 8000),
		APIPort:   support.GetEnvInt("API_PORT", 8001),

		RotationStrategy: support.GetEnv("PROXY_ROTATION_STRATEGY", "random"),
		RotationInterval: support.GetEnvDuration("ROTATION_INTERVAL", 60*time.Second),
		MaxRetries:       support.GetEnvInt("PROXY_MAX_RETRIES", 3),
		ConnectTimeout:   support.GetEnvDuration("PROXY_CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout:   support.GetEnvDuration("PROXY_REQUEST_TIMEOUT", 30*time.Second),

		AuthEnabled:  support.GetEnvBool("PROXY_AUTH_ENABLED", false),
		AuthUsername: support.GetEnv("PROXY_AUTH_USERNAME", ""),
		AuthPassword: support.GetEnv("PROXY_AUTH_PASSWORD", ""),

		RateLimitEnabled:   support.GetEnvBool("PROXY_RATE_LIMIT_ENABLED", false),
		RateLimitPerSecond: support.GetEnvFloat("PROXY_RATE_LIMIT_PER_SECOND", 100),
		RateLimitBurst:     support.GetEnvInt("PROXY_RATE_LIMIT_BURST", 200),

		EgressProxyURL: support.GetEnv("EGRESS_PROXY_URL", ""),

		HealthCheckInterval:    support.GetEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckConcurrency: support.GetEnvInt("HEALTH_CHECK_CONCURRENCY", 10),
		HealthCheckURL:         support.GetEnv("HEALTH_CHECK_URL", "http://www.gstatic.com/generate_204"),

		JWTSecret:         support.GetEnv("JWT_SECRET", ""),
		AdminUsername:     support.GetEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     support.GetEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: support.GetEnv("ADMIN_PASSWORD_HASH", ""),

		LogLevel:               support.GetEnv("LOG_LEVEL", "info"),
		LogRetentionDays:       support.GetEnvInt("LOG_RETENTION_DAYS", 7),
		AutoDeleteAfterSeconds: support.GetEnvInt("PROXY_AUTO_DELETE_SECONDS", 0),
		HeartbeatInterval:      support.GetEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		GeoIPDatabasePath:      support.GetEnv("GEOIP_DATABASE_PATH", ""),
	}
}

// ApplySettings overlays the persisted settings row on the env-derived
// defaults. Only runtime-tunable fields are affected.
func (c *Config) ApplySettings(s domain.Settings) {
	c.RotationStrategy = s.RotationStrategy
	c.RotationInterval = time.Duration(s.RotationIntervalSeconds) * time.Second
	c.MaxRetries = s.MaxRetries
	c.ConnectTimeout = time.Duration(s.ConnectTimeoutSeconds) * time.Second
	c.RequestTimeout = time.Duration(s.RequestTimeoutSeconds) * time.Second
	c.AuthEnabled = s.AuthEnabled
	c.AuthUsername = s.AuthUsername
	c.AuthPassword = s.AuthPassword
	c.RateLimitEnabled = s.RateLimitEnabled
	c.RateLimitPerSecond = s.RateLimitPerSecond
	c.RateLimitBurst = s.RateLimitBurst
	c.EgressProxyURL = s.EgressProxyURL
	c.LogRetentionDays = s.LogRetentionDays
	c.AutoDeleteAfterSeconds = s.AutoDeleteAfterSeconds
}

// SettingsSeed builds the settings row created on first boot, carrying the
// env defaults into the database.
func (c Config) SettingsSeed() domain.Settings {
	return domain.Settings{
		ID:                      domain.SettingsRowID,
		RotationStrategy:        c.RotationStrategy,
		RotationIntervalSeconds: int(c.RotationInterval / time.Second),
		MaxRetries:              c.MaxRetries,
		ConnectTimeoutSeconds:   int(c.ConnectTimeout / time.Second),
		RequestTimeoutSeconds:   int(c.RequestTimeout / time.Second),
		AuthEnabled:             c.AuthEnabled,
		AuthUsername:            c.AuthUsername,
		AuthPassword:            c.AuthPassword,
		RateLimitEnabled:        c.RateLimitEnabled,
		RateLimitPerSecond:      c.RateLimitPerSecond,
		RateLimitBurst:          c.RateLimitBurst,
		EgressProxyURL:          c.EgressProxyURL,
		LogRetentionDays:        c.LogRetentionDays,
		AutoDeleteAfterSeconds:  c.AutoDeleteAfterSeconds,
	}
}
