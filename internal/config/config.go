package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the client configuration read from config.json.
type Config struct {
	Email        string `mapstructure:"email" json:"email,omitempty"`
	Password     string `mapstructure:"password" json:"password,omitempty"`
	SessionToken string `mapstructure:"session_token" json:"session_token,omitempty"`
	AccessToken  string `mapstructure:"access_token" json:"access_token,omitempty"`

	Proxy   string `mapstructure:"proxy" json:"proxy,omitempty"`
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`

	Model string `mapstructure:"model" json:"model,omitempty"`
	Paid  bool   `mapstructure:"paid" json:"paid,omitempty"`

	ConversationID string `mapstructure:"conversation_id" json:"conversation_id,omitempty"`
	ParentID       string `mapstructure:"parent_id" json:"parent_id,omitempty"`

	AutoContinue bool   `mapstructure:"auto_continue" json:"auto_continue,omitempty"`
	LogLevel     string `mapstructure:"log_level" json:"log_level,omitempty"`
}

// ErrNoCredentials is returned when the config contains no usable login info.
var ErrNoCredentials = errors.New("insufficient login details: set access_token, session_token, or email and password")

// Load reads config.json from CONFIG_PATH, the working directory,
// $XDG_CONFIG_HOME/revchat, or $HOME/.config/revchat, in that order.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "revchat"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "revchat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that at least one authentication method is configured.
func (c *Config) Validate() error {
	if c.AccessToken != "" || c.SessionToken != "" {
		return nil
	}
	if c.Email != "" && c.Password != "" {
		return nil
	}
	return ErrNoCredentials
}

// HasEmailLogin reports whether both email and password are set.
func (c *Config) HasEmailLogin() bool {
	return c.Email != "" && c.Password != ""
}

// Dir returns the directory used for cached state (token cache, conversation
// cache). Falls back to the working directory when HOME is unavailable.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "revchat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "revchat")
}

// Redacted returns a copy with secrets masked, for display by the REPL's
// !config command.
func (c *Config) Redacted() Config {
	out := *c
	if out.Password != "" {
		out.Password = "********"
	}
	if out.SessionToken != "" {
		out.SessionToken = mask(out.SessionToken)
	}
	if out.AccessToken != "" {
		out.AccessToken = mask(out.AccessToken)
	}
	return out
}

// String renders the redacted config as indented JSON.
func (c *Config) String() string {
	b, err := json.MarshalIndent(c.Redacted(), "", "    ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
