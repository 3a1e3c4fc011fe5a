// Package config loads flowos settings.
// Priority: env vars > .env file > settings file > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOWOS_"

// Duration is a time.Duration that reads "30s"-style strings from YAML, JSON and env.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig selects the conversion cache.
type CacheConfig struct {
	Backend  string   `json:"backend" yaml:"backend"`
	Size     int      `json:"size" yaml:"size"`
	RedisURL string   `json:"redis_url" yaml:"redis_url"`
	TTL      Duration `json:"ttl" yaml:"ttl"`
}

// RetentionConfig drives the saved-graph purge.
type RetentionConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Cron    string   `json:"cron" yaml:"cron"`
	MaxAge  Duration `json:"max_age" yaml:"max_age"`
}

// LLMConfig points at an OpenAI-compatible chat endpoint. Empty Model disables generation.
type LLMConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Model   string   `json:"model" yaml:"model"`
	APIKey  string   `json:"api_key" yaml:"api_key"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// Config holds all flowos configuration.
type Config struct {
	ListenAddr   string          `json:"listen_addr" yaml:"listen_addr"`
	DBPath       string          `json:"db_path" yaml:"db_path"`
	BinDir       string          `json:"bin_dir" yaml:"bin_dir"`
	LogLevel     string          `json:"log_level" yaml:"log_level"`
	LogFormat    string          `json:"log_format" yaml:"log_format"`
	MaxBodyBytes int64           `json:"max_body_bytes" yaml:"max_body_bytes"`
	Metrics      bool            `json:"metrics" yaml:"metrics"`
	RulesFile    string          `json:"rules_file" yaml:"rules_file"`
	Layout       layout.Options  `json:"layout" yaml:"layout"`
	Cache        CacheConfig     `json:"cache" yaml:"cache"`
	Retention    RetentionConfig `json:"retention" yaml:"retention"`
	LLM          LLMConfig       `json:"llm" yaml:"llm"`
}

// LoadOptions names the files Load reads. Empty paths use the defaults;
// default files that do not exist are skipped, explicit ones are required.
type LoadOptions struct {
	SettingsPath string
	EnvFile      string
	// Getenv overrides os.LookupEnv, for tests.
	Getenv func(string) (string, bool)
}

// Default returns the built-in configuration.
func Default() Config {
	dir := Dir()
	return Config{
		ListenAddr:   ":4200",
		DBPath:       filepath.Join(dir, "flowos.db"),
		BinDir:       filepath.Join(dir, "bin"),
		LogLevel:     "info",
		LogFormat:    "text",
		MaxBodyBytes: 1 << 20,
		Layout:       layout.Options{Direction: layout.DirectionTB},
		Cache: CacheConfig{
			Backend: "memory",
			Size:    256,
			TTL:     Duration(time.Hour),
		},
		Retention: RetentionConfig{
			Enabled: true,
			Cron:    scheduler.DefaultCron,
			MaxAge:  Duration(scheduler.DefaultMaxAge),
		},
		LLM: LLMConfig{Timeout: Duration(30 * time.Second)},
	}
}

// Dir returns the flowos home directory (~/.flowos).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowos"
	}
	return filepath.Join(home, ".flowos")
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.yaml")
}

// PIDPath returns the pidfile written by a running server.
func PIDPath() string {
	return filepath.Join(Dir(), "flowos.pid")
}

// Load builds the configuration from defaults, the settings file, the .env
// file and the environment, each layer overriding the previous one.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	settings, explicit := opts.SettingsPath, opts.SettingsPath != ""
	if !explicit {
		settings = SettingsPath()
	}
	if err := readSettings(settings, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	dotenv, explicit := opts.EnvFile, opts.EnvFile != ""
	if !explicit {
		dotenv = ".env"
	}
	fileEnv, err := godotenv.Read(dotenv)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read env file %s: %w", dotenv, err)
		}
		fileEnv = nil
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	lookup := func(key string) (string, bool) {
		if v, ok := getenv(EnvPrefix + key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[EnvPrefix+key]
		return v, ok && v != ""
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromFile returns the defaults overlaid with one settings file, ignoring
// the environment. Used when rewriting settings.
func FromFile(path string) (Config, error) {
	cfg := Default()
	if err := readSettings(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readSettings overlays a YAML or JSON settings file, chosen by extension.
func readSettings(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported settings file extension: %s", ext)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}
	dur := func(key string, dst *Duration) {
		num(key, func(v string) error { return dst.UnmarshalText([]byte(v)) })
	}
	boolean := func(key string, dst *bool) {
		num(key, func(v string) error {
			b, err := strconv.ParseBool(v)
			*dst = b
			return err
		})
	}
	float := func(key string, dst *float64) {
		num(key, func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			*dst = f
			return err
		})
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("DB_PATH", &cfg.DBPath)
	str("BIN_DIR", &cfg.BinDir)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	num("MAX_BODY_BYTES", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		cfg.MaxBodyBytes = n
		return err
	})
	boolean("METRICS", &cfg.Metrics)
	str("RULES_FILE", &cfg.RulesFile)

	if v, ok := lookup("LAYOUT_DIRECTION"); ok {
		cfg.Layout.Direction = layout.Direction(v)
	}
	float("NODE_SPACING", &cfg.Layout.NodeSpacing)
	float("LEVEL_SPACING", &cfg.Layout.LevelSpacing)

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	num("CACHE_SIZE", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.Cache.Size = n
		return err
	})
	str("REDIS_URL", &cfg.Cache.RedisURL)
	dur("CACHE_TTL", &cfg.Cache.TTL)

	boolean("RETENTION_ENABLED", &cfg.Retention.Enabled)
	str("RETENTION_CRON", &cfg.Retention.Cron)
	dur("RETENTION_MAX_AGE", &cfg.Retention.MaxAge)

	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	dur("LLM_TIMEOUT", &cfg.LLM.Timeout)

	return errors.Join(errs...)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch c.Cache.Backend {
	case "memory", "none":
		if c.Cache.Backend == "memory" && c.Cache.Size <= 0 {
			errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend))
	}
	if _, err := layout.ParseDirection(string(c.Layout.Direction)); err != nil {
		errs = append(errs, err)
	}
	if c.Retention.Enabled {
		if _, err := scheduler.CalculateNextRun(c.Retention.Cron, time.Now()); err != nil {
			errs = append(errs, err)
		}
		if c.Retention.MaxAge <= 0 {
			errs = append(errs, errors.New("retention.max_age must be positive"))
		}
	}
	return errors.Join(errs...)
}

// Save writes c to path as YAML or JSON, chosen by extension.
func (c Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Diff describes what changed between two configurations.
type Diff struct {
	LogLevelChanged bool
	LayoutChanged   bool
	RestartNeeded   []string // fields that require a server restart
}

// Reloadable reports whether the running server can apply the diff in place.
func (d Diff) Reloadable() bool { return len(d.RestartNeeded) == 0 }

// Compare returns the differences between old and new.
func Compare(old, new Config) Diff {
	var d Diff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.Layout.Key() != new.Layout.Key() {
		d.LayoutChanged = true
	}
	restart := func(name string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, name)
		}
	}
	restart("listen_addr", old.ListenAddr != new.ListenAddr)
	restart("db_path", old.DBPath != new.DBPath)
	restart("log_format", old.LogFormat != new.LogFormat)
	restart("cache", old.Cache != new.Cache)
	restart("retention", old.Retention != new.Retention)
	restart("llm", old.LLM != new.LLM)
	restart("rules_file", old.RulesFile != new.RulesFile)
	restart("metrics", old.Metrics != new.Metrics)
	return d
}
