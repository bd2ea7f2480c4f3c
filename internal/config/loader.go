// Package config provides centralized configuration management for
// slash-create. Settings merge in three layers: viper-managed defaults,
// an optional user config file (discovered via app identity), and
// environment variables plus runtime overrides on top.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/vegeta897/slash-create/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load builds the typed configuration:
// 1. viper settings (defaults plus any config file the CLI read in)
// 2. Environment variable overrides
// 3. Runtime overrides passed by the caller
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	// Get app identity if not already loaded
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	setDefaults()
	merged := viper.AllSettings()
	if merged == nil {
		merged = map[string]any{}
	}

	// Load environment variable overrides
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if appIdentity != nil {
		prefix := appIdentity.EnvPrefix
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}

		applyTokenEnvFallback(envOverrides)

		if value := strings.TrimSpace(os.Getenv(prefix + "API_SMOOTH_RATE")); value != "" {
			rate, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid api smooth rate: %w", err)
			}
			api := ensureMap(envOverrides, "api")
			api["smooth_rate"] = rate
		}
	}

	mergeSettings(merged, envOverrides)
	for _, overrides := range runtimeOverrides {
		mergeSettings(merged, overrides)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// setDefaults registers baseline settings with viper. Load calls it on
// every pass so a bare Load (no CLI file discovery) still produces a
// complete config, and path defaults track the current environment.
func setDefaults() {
	// API defaults
	viper.SetDefault("api.base_url", "https://discord.com/api/v10")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.user_agent", "")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.smooth_rate", 0.0)
	viper.SetDefault("api.smooth_burst", 1)

	// Dispatch defaults
	viper.SetDefault("dispatch.max_attempts", 3)
	viper.SetDefault("dispatch.base_backoff", "500ms")
	viper.SetDefault("dispatch.max_backoff", "30s")
	viper.SetDefault("dispatch.global_limit", 50)
	viper.SetDefault("dispatch.global_window", "1s")
	viper.SetDefault("dispatch.bucket_ttl", "5m")
	viper.SetDefault("dispatch.major_resources", []string{})
	viper.SetDefault("dispatch.persist", true)

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "SIMPLE")

	// Store defaults
	viper.SetDefault("store.driver", "libsql")
	viper.SetDefault("store.path", DefaultStorePath())
	viper.SetDefault("store.url", "")
	viper.SetDefault("store.auth_token", "")
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.key_prefix", "slash-create:buckets")
	viper.SetDefault("store.redis.ttl", "24h")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Health check defaults
	viper.SetDefault("health.enabled", true)

	// Worker defaults
	viper.SetDefault("workers", 4)

	// Debug defaults
	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// mergeSettings overlays src onto dst, descending into nested maps so
// an override replaces single leaves instead of whole sections.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		if next, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				mergeSettings(existing, next)
				continue
			}
		}
		dst[key] = value
	}
}

// applyTokenEnvFallback honors the conventional DISCORD_TOKEN variable
// when the prefixed token variable is not set.
func applyTokenEnvFallback(envOverrides map[string]any) {
	value := strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	if value == "" {
		return
	}
	api := ensureMap(envOverrides, "api")
	if _, ok := api["token"]; !ok {
		api["token"] = value
	}
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return []EnvVarSpec{}
	}

	prefix := appIdentity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// API config
		{Name: prefix + "API_BASE_URL", Path: []string{"api", "base_url"}, Type: EnvString},
		{Name: prefix + "API_TOKEN", Path: []string{"api", "token"}, Type: EnvString},
		{Name: prefix + "API_USER_AGENT", Path: []string{"api", "user_agent"}, Type: EnvString},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "API_TIMEOUT", Path: []string{"api", "timeout"}, Type: EnvString},
		{Name: prefix + "API_SMOOTH_BURST", Path: []string{"api", "smooth_burst"}, Type: EnvInt},

		// Dispatch config
		{Name: prefix + "DISPATCH_MAX_ATTEMPTS", Path: []string{"dispatch", "max_attempts"}, Type: EnvInt},
		{Name: prefix + "DISPATCH_BASE_BACKOFF", Path: []string{"dispatch", "base_backoff"}, Type: EnvString},
		{Name: prefix + "DISPATCH_MAX_BACKOFF", Path: []string{"dispatch", "max_backoff"}, Type: EnvString},
		{Name: prefix + "DISPATCH_GLOBAL_LIMIT", Path: []string{"dispatch", "global_limit"}, Type: EnvInt},
		{Name: prefix + "DISPATCH_GLOBAL_WINDOW", Path: []string{"dispatch", "global_window"}, Type: EnvString},
		{Name: prefix + "DISPATCH_BUCKET_TTL", Path: []string{"dispatch", "bucket_ttl"}, Type: EnvString},
		{Name: prefix + "DISPATCH_MAJOR_RESOURCES", Path: []string{"dispatch", "major_resources"}, Type: EnvString},
		{Name: prefix + "DISPATCH_PERSIST", Path: []string{"dispatch", "persist"}, Type: EnvBool},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config (REQUIRED per Workhorse Standard)
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: prefix + "REDIS_ADDR", Path: []string{"store", "redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"store", "redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"store", "redis", "db"}, Type: EnvInt},
		{Name: prefix + "REDIS_KEY_PREFIX", Path: []string{"store", "redis", "key_prefix"}, Type: EnvString},
		{Name: prefix + "REDIS_TTL", Path: []string{"store", "redis", "ttl"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "slash-create" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "slash-create"
	binaryName = "slash-create"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultCacheDir returns the XDG-compliant cache directory for the app.
func DefaultCacheDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppCacheDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// defaultStorePath is an unexported alias for internal use.
func defaultStorePath() string {
	return DefaultStorePath()
}
