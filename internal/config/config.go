// Package config loads service settings from defaults, an optional YAML file
// and VIDFLOW_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"vidflow/internal/cleanup"
)

const EnvPrefix = "VIDFLOW"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	History   HistoryConfig   `mapstructure:"history"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Shortener ShortenerConfig `mapstructure:"shortener"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Workers         int           `mapstructure:"workers" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// Debug mounts the pprof handlers.
	Debug bool `mapstructure:"debug"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type StoreConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	DefaultCountry string        `mapstructure:"default_country" validate:"required"`
	VideoField     string        `mapstructure:"video_field" validate:"required"`
}

type ProviderConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	APIKey     string        `mapstructure:"api_key" validate:"required"`
	APIVersion string        `mapstructure:"api_version" validate:"required"`
	Model      string        `mapstructure:"model" validate:"oneof=gen3a_turbo gen4_turbo"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ShortenerConfig struct {
	// Empty disables shortening; the original url is used.
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type PipelineConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts" validate:"gt=0"`
	SyncAttempts    int           `mapstructure:"sync_attempts" validate:"gt=0"`
	SyncBackoff     time.Duration `mapstructure:"sync_backoff" validate:"gt=0"`
}

type CleanupConfig struct {
	Schedule  string        `mapstructure:"schedule" validate:"required,cronspec"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.workers", 16)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("history.path", "vidflow.db")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.timeout", 15*time.Second)
	v.SetDefault("catalog.default_country", "es")
	v.SetDefault("catalog.video_field", "videoUrl")
	v.SetDefault("provider.base_url", "https://api.dev.runwayml.com")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.api_version", "2024-11-06")
	v.SetDefault("provider.model", "gen3a_turbo")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("shortener.base_url", "")
	v.SetDefault("shortener.timeout", 5*time.Second)
	v.SetDefault("pipeline.poll_interval", 10*time.Second)
	v.SetDefault("pipeline.max_poll_attempts", 60)
	v.SetDefault("pipeline.sync_attempts", 3)
	v.SetDefault("pipeline.sync_backoff", 2*time.Second)
	v.SetDefault("cleanup.schedule", cleanup.DefaultSchedule)
	v.SetDefault("cleanup.retention", cleanup.DefaultRetention)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		return cleanup.ValidateSchedule(fl.Field().String()) == nil
	})
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
