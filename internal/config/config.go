// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatehouse configuration from a YAML file, the
// DATABASE_URL environment variable and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/dialog"
	"github.com/holomush/gatehouse/internal/logging"
	"github.com/holomush/gatehouse/internal/routing"
	"github.com/holomush/gatehouse/internal/xdg"
)

// Config is the full gatehouse configuration.
type Config struct {
	LogFormat        string        `koanf:"log_format"`
	LogLevel         string        `koanf:"log_level"`
	Listen           string        `koanf:"listen"`
	MetricsAddr      string        `koanf:"metrics_addr"`
	ControlAddr      string        `koanf:"control_addr"`
	DatabaseURL      string        `koanf:"database_url"`
	Locale           string        `koanf:"locale"`
	MessagesFile     string        `koanf:"messages_file"`
	Routing          routing.Rules `koanf:"routing"`
	Password         Password      `koanf:"password"`
	Dialog           Dialog        `koanf:"dialog"`
	MaxLoginAttempts int           `koanf:"max_login_attempts"`
	Presence         Presence      `koanf:"presence"`
}

// Password configures the password policy and the hashing algorithm used
// for new credentials.
type Password struct {
	MinLength  int      `koanf:"min_length"`
	MaxLength  int      `koanf:"max_length"`
	Forbidden  []string `koanf:"forbidden"`
	Algorithm  string   `koanf:"algorithm"`
	BcryptCost int      `koanf:"bcrypt_cost"`
}

// Dialog configures the credential dialog.
type Dialog struct {
	MinProtocol int `koanf:"min_protocol"`
	// Timeout bounds how long a route may stay suspended. Zero disables it.
	Timeout time.Duration `koanf:"timeout"`
}

// Presence configures cross-node presence. An empty RedisAddr keeps
// presence in process memory.
type Presence struct {
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	NodeID        string        `koanf:"node_id"`
	TTL           time.Duration `koanf:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogFormat:   "json",
		LogLevel:    "info",
		Listen:      "127.0.0.1:4300",
		MetricsAddr: "127.0.0.1:9100",
		ControlAddr: "127.0.0.1:9101",
		Locale:      "en",
		Password: Password{
			MinLength:  auth.DefaultMinPasswordLength,
			MaxLength:  auth.DefaultMaxPasswordLength,
			Algorithm:  auth.AlgorithmArgon2id,
			BcryptCost: 10,
		},
		Dialog: Dialog{
			MinProtocol: dialog.DefaultMinProtocol,
		},
		MaxLoginAttempts: 0,
		Presence: Presence{
			TTL: 30 * time.Second,
		},
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-format":         "log_format",
	"log-level":          "log_level",
	"listen":             "listen",
	"metrics-addr":       "metrics_addr",
	"control-addr":       "control_addr",
	"locale":             "locale",
	"messages-file":      "messages_file",
	"dialog-timeout":     "dialog.timeout",
	"max-login-attempts": "max_login_attempts",
	"redis-addr":         "presence.redis_addr",
	"node-id":            "presence.node_id",
}

// BindFlags registers the flags that override config values.
func BindFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("log-format", def.LogFormat, "log format (json or text)")
	fs.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	fs.String("listen", def.Listen, "WebSocket listen address")
	fs.String("metrics-addr", def.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-addr", def.ControlAddr, "gRPC health address (empty = disabled)")
	fs.String("locale", def.Locale, "message catalog locale")
	fs.String("messages-file", "", "YAML file overriding catalog messages")
	fs.Duration("dialog-timeout", def.Dialog.Timeout, "how long a login dialog may stay open (0 = forever)")
	fs.Int("max-login-attempts", def.MaxLoginAttempts, "wrong passwords before disconnect (0 = unlimited)")
	fs.String("redis-addr", "", "Redis address for cross-node presence")
	fs.String("node-id", "", "presence owner id for this node (default: hostname)")
}

// Load reads path, applies DATABASE_URL and then any flag the user set.
// An empty path means the XDG config file, which may be absent.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, err
		}
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if url, ok := os.LookupEnv("DATABASE_URL"); ok && url != "" {
		if err := k.Set("database_url", url); err != nil {
			return nil, oops.Code("CONFIG_ENV_FAILED").With("env", "DATABASE_URL").Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return cfg, nil
}

func invalid(field string, value any, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).With("value", value).Errorf(format, args...)
}

// Validate rejects inconsistent values. It does not require DatabaseURL;
// commands that need the database check it themselves.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", c.LogFormat, "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel, "unknown log level %q", c.LogLevel)
	}
	if c.Listen == "" {
		return invalid("listen", c.Listen, "listen is required")
	}
	if c.Password.MinLength > c.Password.MaxLength {
		return invalid("password.min_length", c.Password.MinLength,
			"password.min_length %d exceeds password.max_length %d", c.Password.MinLength, c.Password.MaxLength)
	}
	switch c.Password.Algorithm {
	case auth.AlgorithmArgon2id, auth.AlgorithmBcrypt:
	default:
		return invalid("password.algorithm", c.Password.Algorithm, "unsupported password algorithm %q", c.Password.Algorithm)
	}
	if c.Dialog.MinProtocol < 0 {
		return invalid("dialog.min_protocol", c.Dialog.MinProtocol, "dialog.min_protocol must not be negative")
	}
	if c.Dialog.Timeout < 0 {
		return invalid("dialog.timeout", c.Dialog.Timeout, "dialog.timeout must not be negative")
	}
	if c.MaxLoginAttempts < 0 {
		return invalid("max_login_attempts", c.MaxLoginAttempts, "max_login_attempts must not be negative")
	}
	if c.Presence.RedisAddr != "" && c.Presence.TTL <= 0 {
		return invalid("presence.ttl", c.Presence.TTL, "presence.ttl must be positive when redis_addr is set")
	}
	if _, err := routing.NewEngine(c.Routing); err != nil {
		return invalid("routing", auth.ErrorCode(err), "invalid routing rules: %s", err.Error())
	}
	return nil
}

// Policy compiles the configured password policy.
func (c *Config) Policy() (*auth.PasswordPolicy, error) {
	return auth.NewPasswordPolicy(c.Password.MinLength, c.Password.MaxLength, c.Password.Forbidden)
}

// Providers returns the hashing providers. Both algorithms are always
// registered so credentials stored under either one stay verifiable.
func (c *Config) Providers() []auth.CryptoProvider {
	return []auth.CryptoProvider{
		auth.NewArgon2idProvider(),
		auth.NewBcryptProvider(c.Password.BcryptCost),
	}
}
