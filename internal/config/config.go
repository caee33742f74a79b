// Package config loads client settings from flags, TEMEVA_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/temeva/pkg/client"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TEMEVA"

// Config is the resolved client configuration.
type Config struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	OrganizationID string        `mapstructure:"organization_id"`
	BaseURL        string        `mapstructure:"base_url"`
	LogLevel       string        `mapstructure:"log_level"`
	LogPath        string        `mapstructure:"log_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ErrMissingCredentials is returned by Validate when username or password is
// unset.
var ErrMissingCredentials = errors.New("username and password are required")

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"username":  "username",
	"password":  "password",
	"org":       "organization_id",
	"base-url":  "base_url",
	"log-level": "log_level",
	"log-path":  "log_path",
	"timeout":   "timeout",
}

// New returns a viper instance with defaults and env binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("base_url", client.DefaultBaseURL)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_path", "")
	v.SetDefault("organization_id", "")
	v.SetDefault("timeout", client.DefaultTimeout)
	v.SetDefault("username", "")
	v.SetDefault("password", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every known flag present in fs to its config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads cfgFile, or the first of $HOME/.temeva/config.yaml and
// ./config.yaml that exists, and unmarshals the merged settings. A missing
// default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".temeva"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// ClientOptions turns the settings into client options.
func (c *Config) ClientOptions() []client.Option {
	opts := []client.Option{
		client.WithBaseURL(c.BaseURL),
		client.WithTimeout(c.Timeout),
	}
	if c.OrganizationID != "" {
		opts = append(opts, client.WithOrganizationID(c.OrganizationID))
	}
	return opts
}
