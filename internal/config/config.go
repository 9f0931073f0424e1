// Package config provides configuration management for recode using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/recode/pkg/bytesize"
	"github.com/jmylchreest/recode/pkg/duration"
)

// Default configuration values.
const (
	defaultUpdateDelay    = 20 * time.Second
	defaultStaticLimitIO  = 30
	defaultStaticLimitCPU = 6
)

// Config holds all configuration for the application.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// StorageConfig holds default path configuration.
type StorageConfig struct {
	DefaultDest  string `mapstructure:"default_dest"`
	StateName    string `mapstructure:"state_name"` // basename for the locked state file when --state is not given
	DefaultLog   string `mapstructure:"default_log"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds tool binary configuration for the tool resolver.
type FFmpegConfig struct {
	FFmpegPath          string `mapstructure:"ffmpeg_path"`           // empty = auto-detect via $FFMPEG_PATH / PATH
	FFmpegNormalizePath string `mapstructure:"ffmpeg_normalize_path"` // empty = auto-detect via $FFMPEG_NORM_PATH / PATH
	MkvmergePath        string `mapstructure:"mkvmerge_path"`
	MkvextractPath      string `mapstructure:"mkvextract_path"`
}

// SchedulerConfig holds Executor tuning knobs.
type SchedulerConfig struct {
	// UpdateDelay is the minimum interval between the executor's re-reads
	// of the state file to pick up batches ingested after it started. Accepts
	// pkg/duration's extended syntax ("2d", "1w") in addition to Go's own.
	UpdateDelay time.Duration `mapstructure:"update_delay"`
	// StaticLimitIO/StaticLimitCPU are loaded from config but not passed to
	// the executor: every task kind's GetLimit supplies its own ceiling.
	StaticLimitIO  int `mapstructure:"static_limit_io"`
	StaticLimitCPU int `mapstructure:"static_limit_cpu"`
	// MinFreeDiskSpace is a free-space threshold in pkg/bytesize syntax
	// (e.g. "10GB"). Validate checks that it parses; the executor does not
	// check free disk space before admitting tasks.
	MinFreeDiskSpace string `mapstructure:"min_free_disk_space"`
}

// MinFreeDiskSpaceBytes parses MinFreeDiskSpace, returning 0 if unset.
func (s SchedulerConfig) MinFreeDiskSpaceBytes() (bytesize.Size, error) {
	if s.MinFreeDiskSpace == "" {
		return 0, nil
	}
	return bytesize.Parse(s.MinFreeDiskSpace)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RECODE_ and use underscores for nesting.
// Example: RECODE_SCHEDULER_UPDATE_DELAY=30s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".recode")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/recode")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("RECODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToExtendedDurationHookFunc,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// stringToExtendedDurationHookFunc is a mapstructure decode hook that parses
// a time.Duration field via pkg/duration.Parse instead of time.ParseDuration,
// so scheduler.update_delay (and any future duration-typed field) accepts
// day/week/month/year units in addition to Go's own.
func stringToExtendedDurationHookFunc(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || s == "" {
		return data, nil
	}
	return duration.Parse(s)
}

var _ mapstructure.DecodeHookFuncType = stringToExtendedDurationHookFunc

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.default_dest", "")
	v.SetDefault("storage.state_name", "tasks.state")
	v.SetDefault("storage.default_log", "recode.log")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("ffmpeg.ffmpeg_path", "")
	v.SetDefault("ffmpeg.ffmpeg_normalize_path", "")
	v.SetDefault("ffmpeg.mkvmerge_path", "")
	v.SetDefault("ffmpeg.mkvextract_path", "")

	v.SetDefault("scheduler.update_delay", defaultUpdateDelay)
	v.SetDefault("scheduler.static_limit_io", defaultStaticLimitIO)
	v.SetDefault("scheduler.static_limit_cpu", defaultStaticLimitCPU)
	v.SetDefault("scheduler.min_free_disk_space", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Scheduler.UpdateDelay <= 0 {
		return fmt.Errorf("scheduler.update_delay must be positive")
	}
	if _, err := c.Scheduler.MinFreeDiskSpaceBytes(); err != nil {
		return fmt.Errorf("scheduler.min_free_disk_space: %w", err)
	}
	return nil
}
