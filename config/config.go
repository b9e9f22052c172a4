// Package config loads the host configuration of workerhost from a YAML
// file, WORKERS_* environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WORKERS"

// Config is the host configuration.
type Config struct {
	Manifest string        `mapstructure:"manifest" validate:"required"`
	Server   ServerConfig  `mapstructure:"server"`
	Storage  StorageConfig `mapstructure:"storage"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required,hostname_port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	// InvocationTimeout bounds one guest invocation. Zero means no bound.
	InvocationTimeout time.Duration `mapstructure:"invocation_timeout" validate:"gte=0"`
}

// StorageConfig selects the durable object state store.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// RuntimeConfig configures the wasm runtime and the method registry.
type RuntimeConfig struct {
	CompilationCacheDir string `mapstructure:"compilation_cache_dir"`
	MemoryLimitPages    uint32 `mapstructure:"memory_limit_pages" validate:"lte=65536"`
	StrictRegistry      bool   `mapstructure:"strict_registry"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("manifest", "worker.yaml")
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.invocation_timeout", 30*time.Second)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("runtime.memory_limit_pages", 256)
	v.SetDefault("runtime.strict_registry", true)
}

// Load reads the configuration. When file is empty only defaults, the
// environment, and flags already bound to v apply.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &werrors.ConfigError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration's struct constraints.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &werrors.ConfigError{Field: verrs[0].Namespace(), Err: err}
	}
	return &werrors.ConfigError{Err: err}
}

// Logger builds the logger the configuration describes.
func (c LoggingConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
