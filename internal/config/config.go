package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full configuration surface of the cleaner.
type Config struct {
	ProtectedPaths    []string `mapstructure:"protected_paths"    yaml:"protected_paths"`
	RubbishExtensions []string `mapstructure:"rubbish_extensions" yaml:"rubbish_extensions" validate:"min=1,dive,startswith=."`
	MaxAgeDays        int      `mapstructure:"max_age_days"       yaml:"max_age_days"       validate:"gte=0"`
	MinSizeBytes      int64    `mapstructure:"min_size_bytes"     yaml:"min_size_bytes"     validate:"gte=0"`
	RetentionDays     int      `mapstructure:"retention_days"     yaml:"retention_days"     validate:"gte=1"`
	BackupDir         string   `mapstructure:"backup_dir"         yaml:"backup_dir"         validate:"required"`
	CompressionLevel  int      `mapstructure:"compression_level"  yaml:"compression_level"  validate:"gte=-2,lte=9"`
	MetricsFile       string   `mapstructure:"metrics_file"       yaml:"metrics_file"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// LogConfig controls the zap logger and its optional rotating file.
type LogConfig struct {
	Level    string         `mapstructure:"level"    yaml:"level"    validate:"oneof=debug info warn error"`
	File     string         `mapstructure:"file"     yaml:"file"`
	JSON     bool           `mapstructure:"json"     yaml:"json"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig is passed through to lumberjack for the log file.
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"    validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"     validate:"gte=0"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

// MaxAge returns the age threshold as a duration.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ProtectedPaths:    DefaultProtectedPaths(),
		RubbishExtensions: DefaultRubbishExtensions(),
		MaxAgeDays:        30,
		MinSizeBytes:      1 << 20,
		RetentionDays:     30,
		BackupDir:         DefaultBackupDir(),
		CompressionLevel:  -1,
		Log: LogConfig{
			Level: "info",
			Rotation: RotationConfig{
				MaxSize:    16,
				MaxBackups: 3,
				MaxAge:     30,
			},
		},
	}
}

// SetDefaults registers the built-in values on v so that unset keys resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("protected_paths", d.ProtectedPaths)
	v.SetDefault("rubbish_extensions", d.RubbishExtensions)
	v.SetDefault("max_age_days", d.MaxAgeDays)
	v.SetDefault("min_size_bytes", d.MinSizeBytes)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("backup_dir", d.BackupDir)
	v.SetDefault("compression_level", d.CompressionLevel)
	v.SetDefault("metrics_file", d.MetricsFile)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.rotation.max_size", d.Log.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age", d.Log.Rotation.MaxAge)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	for i, ext := range cfg.RubbishExtensions {
		cfg.RubbishExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
