// Package config loads settings in increasing priority from built-in defaults,
// a YAML file, MEMORYMASTER_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces environment overrides: MEMORYMASTER_SQLITE_PATH sets sqlite.path.
const EnvPrefix = "MEMORYMASTER_"

// ErrInvalid is returned when the merged configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// SQLite configures the local database backend.
type SQLite struct {
	Path string `koanf:"path" validate:"required"`
}

// Redis configures the remote backend connection.
type Redis struct {
	Addr     string `koanf:"addr" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0,lte=15"`
	Prefix   string `koanf:"prefix"`
}

// Log selects the log format and level.
type Log struct {
	Mode  string `koanf:"mode" validate:"oneof=dev prod"`
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Import configures markdown deck imports.
type Import struct {
	CacheDir string `koanf:"cache_dir" validate:"required"`
}

// Config is the merged application configuration.
type Config struct {
	Backend string `koanf:"backend" validate:"oneof=sqlite redis"`
	SQLite  SQLite `koanf:"sqlite"`
	Redis   Redis  `koanf:"redis"`
	Log     Log    `koanf:"log"`
	Import  Import `koanf:"import"`
}

var defaults = map[string]any{
	"backend":          "sqlite",
	"sqlite.path":      "memorymaster.db",
	"redis.addr":       "localhost:6379",
	"redis.password":   "",
	"redis.db":         0,
	"redis.prefix":     "memorymaster:",
	"log.mode":         "dev",
	"log.level":        "info",
	"import.cache_dir": "repos",
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"backend":        "backend",
	"db":             "sqlite.path",
	"redis-addr":     "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"redis-prefix":   "redis.prefix",
	"log-mode":       "log.mode",
	"log-level":      "log.level",
	"cache-dir":      "import.cache_dir",
}

// RegisterFlags adds the global configuration flags to fs. Their defaults are
// left empty so that an unset flag never hides a file or environment value.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("backend", "", "storage backend: sqlite or redis")
	fs.String("db", "", "sqlite database file")
	fs.String("redis-addr", "", "redis server address")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database number")
	fs.String("redis-prefix", "", "prefix for every redis key")
	fs.String("log-mode", "", "log format: dev or prod")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("cache-dir", "", "directory for git checkouts of imported decks")
}

func envKey(s string) string {
	// backend, sqlite_path -> sqlite.path, import_cache_dir -> import.cache_dir
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Load merges every source. path may be empty, in which case no file is read;
// fs may be nil. The "config" flag, when set, takes the place of path.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
