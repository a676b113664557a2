// Package config provides configuration loading and validation for the
// Jeffrey archive bot. Values come from defaults, an optional YAML file, and
// BOT_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components: logging, the Discord connection, the Gemini integration, the
// database, ingestion, and scheduled tasks.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DiscordConfig holds the gateway credentials and command settings.
type DiscordConfig struct {
	Token   string `mapstructure:"token" validate:"required"`
	GuildID string `mapstructure:"guild_id"`
}

// GeminiConfig holds the Gemini API settings.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" validate:"required"`
	ModelName         string  `mapstructure:"model_name" validate:"required"`
	Temperature       float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=1,max=60"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path          string `mapstructure:"path" validate:"required"`
	RetentionDays int    `mapstructure:"retention_days" validate:"min=0"`
}

// IngestConfig controls historical backfill.
type IngestConfig struct {
	BackfillOnStart bool          `mapstructure:"backfill_on_start"`
	PageSize        int           `mapstructure:"page_size" validate:"min=1,max=100"`
	PageDelay       time.Duration `mapstructure:"page_delay" validate:"min=0"`
}

// TaskConfig enables a single scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// LoadConfig reads the configuration from configPath, applying defaults and
// BOT_* environment variable overrides, then validates the result. A missing
// config file is not an error; defaults plus environment must then satisfy
// validation.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(configPath), "."))

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay_seconds", 5)

	v.SetDefault("database.path", "jeffrey.db")
	v.SetDefault("database.retention_days", 0)

	v.SetDefault("ingest.backfill_on_start", true)
	v.SetDefault("ingest.page_size", 100)
	v.SetDefault("ingest.page_delay", 500*time.Millisecond)

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{})
}
