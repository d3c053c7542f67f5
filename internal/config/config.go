package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "HUDDLE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabasePath      = "huddle.db"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "json"
	defaultCookieName        = "app_session"
	defaultIssuer            = "mprlab-auth"
	defaultRedisURL          = "redis://localhost:6379/0"
	defaultTransport         = "local"
	defaultBroadcastTimeout  = 5 * time.Second
	defaultMaxPinned         = 5
	defaultRetryWindow       = time.Hour
	defaultRetention         = 30 * 24 * time.Hour
	defaultRetryInterval     = time.Minute
	defaultCleanupInterval   = time.Hour
	defaultCacheBackend      = "memory"
	defaultCacheTTL          = 30 * time.Second
	DatabaseDriverSQLite     = "sqlite"
	DatabaseDriverPostgres   = "postgres"
	BroadcastTransportLocal  = "local"
	BroadcastTransportRedis  = "redis"
	CacheBackendMemory       = "memory"
	CacheBackendRedis        = "redis"
	defaultElevatedRoleAdmin = "admin"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	HTTPAllowedOrigins []string
	LogLevel           string
	LogEncoding        string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AuthSigningKey    string
	AuthIssuer        string
	AuthCookieName    string
	AuthElevatedRoles []string

	RedisURL           string
	BroadcastTransport string
	BroadcastTimeout   time.Duration

	MaxPinnedChannels int

	OperationsRetryWindow     time.Duration
	OperationsRetention       time.Duration
	OperationsRetryInterval   time.Duration
	OperationsCleanupInterval time.Duration

	CacheBackend string
	CacheTTL     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.elevated_roles", []string{defaultElevatedRoleAdmin})
	configViper.SetDefault("redis.url", defaultRedisURL)
	configViper.SetDefault("broadcast.transport", defaultTransport)
	configViper.SetDefault("broadcast.timeout", defaultBroadcastTimeout)
	configViper.SetDefault("pins.max_per_user", defaultMaxPinned)
	configViper.SetDefault("operations.retry_window", defaultRetryWindow)
	configViper.SetDefault("operations.retention", defaultRetention)
	configViper.SetDefault("operations.retry_interval", defaultRetryInterval)
	configViper.SetDefault("operations.cleanup_interval", defaultCleanupInterval)
	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("cache.ttl", defaultCacheTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:               configViper.GetString("http.address"),
		HTTPAllowedOrigins:        normalizeOrigins(configViper.GetStringSlice("http.allowed_origins")),
		LogLevel:                  configViper.GetString("log.level"),
		LogEncoding:               configViper.GetString("log.encoding"),
		DatabaseDriver:            strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:              configViper.GetString("database.path"),
		DatabaseDSN:               configViper.GetString("database.dsn"),
		AuthSigningKey:            configViper.GetString("auth.signing_secret"),
		AuthIssuer:                configViper.GetString("auth.issuer"),
		AuthCookieName:            configViper.GetString("auth.cookie_name"),
		AuthElevatedRoles:         configViper.GetStringSlice("auth.elevated_roles"),
		RedisURL:                  configViper.GetString("redis.url"),
		BroadcastTransport:        strings.ToLower(strings.TrimSpace(configViper.GetString("broadcast.transport"))),
		BroadcastTimeout:          configViper.GetDuration("broadcast.timeout"),
		MaxPinnedChannels:         configViper.GetInt("pins.max_per_user"),
		OperationsRetryWindow:     configViper.GetDuration("operations.retry_window"),
		OperationsRetention:       configViper.GetDuration("operations.retention"),
		OperationsRetryInterval:   configViper.GetDuration("operations.retry_interval"),
		OperationsCleanupInterval: configViper.GetDuration("operations.cleanup_interval"),
		CacheBackend:              strings.ToLower(strings.TrimSpace(configViper.GetString("cache.backend"))),
		CacheTTL:                  configViper.GetDuration("cache.ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c AppConfig) UsesRedis() bool {
	return c.BroadcastTransport == BroadcastTransportRedis || c.CacheBackend == CacheBackendRedis
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	for _, origin := range c.HTTPAllowedOrigins {
		if origin == "*" || !(strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")) {
			return fmt.Errorf("http.allowed_origins entry %q must be an http or https origin", origin)
		}
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.BroadcastTransport {
	case BroadcastTransportLocal, BroadcastTransportRedis:
	default:
		return fmt.Errorf("broadcast.transport %q is not supported", c.BroadcastTransport)
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.CacheBackend)
	}
	if c.UsesRedis() && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.MaxPinnedChannels <= 0 {
		return fmt.Errorf("pins.max_per_user must be positive")
	}
	if c.BroadcastTimeout <= 0 {
		return fmt.Errorf("broadcast.timeout must be positive")
	}
	if c.OperationsRetryWindow <= 0 || c.OperationsRetention <= 0 {
		return fmt.Errorf("operations.retry_window and operations.retention must be positive")
	}
	if c.OperationsRetryInterval <= 0 || c.OperationsCleanupInterval <= 0 {
		return fmt.Errorf("operations intervals must be positive")
	}
	return nil
}

// normalizeOrigins accepts comma-separated entries so a single env var can
// list several origins.
func normalizeOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			origin := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(part)), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
