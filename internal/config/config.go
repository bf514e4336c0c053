package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/snapwatch/internal/detector"
	"github.com/loykin/snapwatch/internal/env"
	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/tracking"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SNAPWATCH_SERVER_LISTEN for server.listen.
const EnvPrefix = "SNAPWATCH"

// Config represents the top-level TOML structure.
type Config struct {
	PollInterval time.Duration    `mapstructure:"poll_interval" validate:"gte=0"`
	Env          []string         `mapstructure:"env"`
	EnvFiles     []string         `mapstructure:"env_files"`
	UseOSEnv     bool             `mapstructure:"use_os_env"`
	TrackingFile string           `mapstructure:"tracking_file"`
	Entries      []tracking.Entry `mapstructure:"entries" validate:"dive"`
	Log          LogConfig        `mapstructure:"log"`
	Server       ServerConfig     `mapstructure:"server"`
	Metrics      MetricsConfig    `mapstructure:"metrics"`
	History      HistoryConfig    `mapstructure:"history"`
	Backup       BackupConfig     `mapstructure:"backup"`

	// Path is the file the config was loaded from, if any.
	Path string `mapstructure:"-"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen" validate:"required_if=Enabled true,omitempty,hostname_port"`
	BasePath string `mapstructure:"base_path"`
	PIDFile  string `mapstructure:"pidfile"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type BackupConfig struct {
	AutoConfirm bool `mapstructure:"auto_confirm"`
	DryRun      bool `mapstructure:"dry_run"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report mapstructure keys so messages match the file
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		PollInterval: time.Second,
		UseOSEnv:     true,
		Log:          LogConfig{Level: "info", Format: "text", Color: true},
		Server:       ServerConfig{Listen: "127.0.0.1:8765", BasePath: "/api"},
		Metrics:      MetricsConfig{Listen: "127.0.0.1:9765"},
		Backup:       BackupConfig{AutoConfirm: true},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("use_os_env", d.UseOSEnv)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("backup.auto_confirm", d.Backup.AutoConfirm)
}

// Load reads a TOML config file, applies SNAPWATCH_* overrides, merges the
// entries of tracking_file and validates the result. An empty path yields
// the defaults (with overrides) and no entries.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.E(errs.KindInvalidConfig, "config.load", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errs.E(errs.KindInvalidConfig, "config.load", path, err)
	}
	c.Path = path

	if c.TrackingFile != "" {
		c.TrackingFile = c.resolve(c.TrackingFile)
		// A missing tracking file holds no entries yet; the first save creates it.
		if _, err := os.Stat(c.TrackingFile); err == nil {
			entries, err := LoadEntries(c.TrackingFile)
			if err != nil {
				return nil, err
			}
			c.Entries = append(c.Entries, entries...)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.E(errs.KindInvalidConfig, "config.load", c.TrackingFile, err)
		}
	}
	for i, p := range c.EnvFiles {
		c.EnvFiles[i] = c.resolve(p)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve makes p relative to the config file's directory.
func (c *Config) resolve(p string) string {
	if c.Path == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(c.Path), p)
}

// Validate checks field constraints, unique process names and detector
// settings. Errors are KindInvalidConfig with a descriptive message.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Invalidf("config.validate", "%s", describe(err))
	}
	return ValidateEntries(c.Entries)
}

// ValidateEntries checks entries the way the registry and watcher will use them.
func ValidateEntries(entries []tracking.Entry) error {
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return errs.Invalidf("config.validate", "entries[%d]: %s", i, describe(err))
		}
		if err := e.Validate(); err != nil {
			return errs.Invalidf("config.validate", "entries[%d]: %v", i, err)
		}
		if j, dup := seen[e.ProcessName]; dup {
			return errs.Invalidf("config.validate", "entries[%d]: process %q already tracked by entries[%d]", i, e.ProcessName, j)
		}
		seen[e.ProcessName] = i
		if _, err := detector.Build(e.ProcessName, e.Detectors); err != nil {
			return errs.Invalidf("config.validate", "entries[%d]: %v", i, err)
		}
	}
	return nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		case "hostname_port":
			msgs = append(msgs, fmt.Sprintf("%s must be host:port, got %v", field, fe.Value()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// Environment builds the variables used to expand entry paths.
// Precedence, lowest first: OS environment (when use_os_env), env_files in
// order, then the env list.
func (c *Config) Environment() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	} else {
		e.Isolate()
	}
	for _, p := range c.EnvFiles {
		m, err := godotenv.Read(filepath.Clean(p))
		if err != nil {
			return nil, errs.E(errs.KindInvalidConfig, "config.env_files", p, err)
		}
		for k, v := range m {
			e.Set(k, v)
		}
	}
	e.SetPairs(c.Env)
	return e, nil
}

// Interval returns the poll interval, defaulting to one second.
func (c *Config) Interval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return c.PollInterval
}
