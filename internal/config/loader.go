// Package config loads catalog configuration from defaults, an optional
// catalog.yaml, CATALOG_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "CATALOG"

	// ConfigName is the config file base name searched for.
	ConfigName = "catalog"

	// ConfigFileEnv names an explicit config file.
	ConfigFileEnv = EnvPrefix + "_CONFIG"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	S3        S3Config        `mapstructure:"s3"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	Bookmarks BookmarksConfig `mapstructure:"bookmarks"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Health    HealthConfig    `mapstructure:"health"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig picks the object store backend. Provider "file" serves
// buckets from directories under Root.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Root     string `mapstructure:"root"`
}

type S3Config struct {
	Region         string `mapstructure:"region"`
	Profile        string `mapstructure:"profile"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	MaxKeys        int    `mapstructure:"max_keys"`
}

type ListingConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

type BulkConfig struct {
	Concurrency  int     `mapstructure:"concurrency"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	SummaryLimit int     `mapstructure:"summary_limit"`
}

type BookmarksConfig struct {
	Path         string `mapstructure:"path"`
	URL          string `mapstructure:"url"`
	AuthToken    string `mapstructure:"auth_token"`
	DefaultGroup string `mapstructure:"default_group"`
}

type SessionsConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	// PersistDir, when set, holds session snapshots across restarts.
	PersistDir string `mapstructure:"persist_dir"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig controls the Prometheus exporter started by serve.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// envSpec maps one environment variable to a config key path.
type envSpec struct {
	Name string
	Path []string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds a Config and makes it the one GetConfig returns. Each override
// map is nested like the YAML file and wins over every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(strings.Join(spec.Path, "."), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Storage.Provider {
	case "s3":
	case "file":
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the file provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.provider %q must be s3 or file", c.Storage.Provider))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.Bulk.Concurrency < 0 {
		errs = append(errs, errors.New("bulk.concurrency must be >= 0"))
	}
	if c.Bulk.RateLimit < 0 {
		errs = append(errs, errors.New("bulk.rate_limit must be >= 0"))
	}
	if c.Sessions.IdleTTL <= 0 {
		errs = append(errs, errors.New("sessions.idle_ttl must be positive"))
	}
	if c.Bookmarks.DefaultGroup == "" {
		errs = append(errs, errors.New("bookmarks.default_group is required"))
	}
	return errors.Join(errs...)
}

// Addr is the server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.root", "")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.max_keys", 1000)

	v.SetDefault("listing.max_items", 10000)

	v.SetDefault("bulk.concurrency", 16)
	v.SetDefault("bulk.rate_limit", 0)
	v.SetDefault("bulk.summary_limit", 3)

	v.SetDefault("bookmarks.path", defaultBookmarksPath())
	v.SetDefault("bookmarks.url", "")
	v.SetDefault("bookmarks.auth_token", "")
	v.SetDefault("bookmarks.default_group", "main")

	v.SetDefault("sessions.idle_ttl", "30m")
	v.SetDefault("sessions.sweep_interval", "1m")
	v.SetDefault("sessions.max_sessions", 1024)
	v.SetDefault("sessions.persist_dir", "")

	v.SetDefault("health.enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

func getEnvSpecs() []envSpec {
	short := map[string][]string{
		"HOST":             {"server", "host"},
		"PORT":             {"server", "port"},
		"READ_TIMEOUT":     {"server", "read_timeout"},
		"WRITE_TIMEOUT":    {"server", "write_timeout"},
		"IDLE_TIMEOUT":     {"server", "idle_timeout"},
		"SHUTDOWN_TIMEOUT": {"server", "shutdown_timeout"},
		"LOG_LEVEL":        {"logging", "level"},
		"LOG_PROFILE":      {"logging", "profile"},
		"STORAGE":          {"storage", "provider"},
		"STORAGE_ROOT":     {"storage", "root"},
		"AWS_REGION":       {"s3", "region"},
		"AWS_PROFILE":      {"s3", "profile"},
		"S3_ENDPOINT":      {"s3", "endpoint"},
		"CONCURRENCY":      {"bulk", "concurrency"},
		"RATE_LIMIT":       {"bulk", "rate_limit"},
		"BOOKMARKS_PATH":   {"bookmarks", "path"},
		"BOOKMARKS_URL":    {"bookmarks", "url"},
		"BOOKMARKS_TOKEN":  {"bookmarks", "auth_token"},
		"SESSION_TTL":      {"sessions", "idle_ttl"},
		"SESSION_DIR":      {"sessions", "persist_dir"},
		"METRICS_ENABLED":  {"metrics", "enabled"},
		"METRICS_PORT":     {"metrics", "port"},
	}

	specs := make([]envSpec, 0, len(short))
	for name, path := range short {
		specs = append(specs, envSpec{Name: EnvPrefix + "_" + name, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// readConfigFile loads CATALOG_CONFIG when set, else the first catalog.yaml
// found in the working directory or the user config paths. A missing file is
// not an error.
func readConfigFile(v *viper.Viper) error {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func getUserConfigPaths() []string {
	dir := gfconfig.GetAppConfigDir(ConfigName)
	if dir == "" {
		return nil
	}
	return []string{dir}
}

// defaultBookmarksPath places the bookmarks database in the app data dir.
func defaultBookmarksPath() string {
	dir := gfconfig.GetAppDataDir(ConfigName)
	if dir == "" {
		return "bookmarks.db"
	}
	return filepath.Join(dir, "bookmarks.db")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
