package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. IMV_DATA_DIR.
const EnvPrefix = "IMV"

type Config struct {
	DataDir      string  `mapstructure:"data_dir" validate:"required"`
	FileType     string  `mapstructure:"file_type" validate:"required,oneof=csv parquet"`
	SiteName     string  `mapstructure:"site_name" validate:"required"`
	OutputDir    string  `mapstructure:"output_dir" validate:"required"`
	WriteParquet bool    `mapstructure:"write_parquet"`
	PGURL        string  `mapstructure:"pg_url"`
	SQLitePath   string  `mapstructure:"sqlite_path"`
	MetricsFile  string  `mapstructure:"metrics_file"`
	LogLevel     string  `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat    string  `mapstructure:"log_format" validate:"oneof=json console"`
	MinAge       float64 `mapstructure:"min_age" validate:"gte=0"`
}

var keys = []string{
	"data_dir", "file_type", "site_name", "output_dir", "write_parquet",
	"pg_url", "sqlite_path", "metrics_file", "log_level", "log_format", "min_age",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "output")
	v.SetDefault("write_parquet", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("min_age", 18)
}

// Load resolves the configuration. Precedence, highest first: flags that
// were set, IMV_* environment variables, the config file at path (optional;
// yaml, json or toml by extension), defaults. Flag names use dashes for the
// key's underscores (--data-dir for data_dir).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	if flags != nil {
		for _, k := range keys {
			if f := flags.Lookup(strings.ReplaceAll(k, "_", "-")); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.FileType = strings.ToLower(strings.TrimSpace(cfg.FileType))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	key := fieldKeys[fe.StructField()]
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", key, fe.Tag())
}

var fieldKeys = map[string]string{
	"DataDir":   "data_dir",
	"FileType":  "file_type",
	"SiteName":  "site_name",
	"OutputDir": "output_dir",
	"LogLevel":  "log_level",
	"LogFormat": "log_format",
	"MinAge":    "min_age",
}
