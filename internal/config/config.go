// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package config loads server settings from flags, an optional YAML file and
// environment secrets.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// Environment variables read for secrets.
const (
	EnvSecretKey     = "VENDORHUB_SECRET_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvMailgunAPIKey = "MAILGUN_API_KEY"
)

// Mail drivers.
const (
	MailDriverLog     = "log"
	MailDriverMailgun = "mailgun"
)

// Config is the complete server configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Mail     MailConfig     `koanf:"mail"`
}

// LogConfig selects log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MaxConns    int32  `koanf:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// AuthConfig configures tokens and mailed links.
type AuthConfig struct {
	SecretKey         string        `koanf:"secret_key"`
	ClientURL         string        `koanf:"client_url"`
	ResendCooldown    time.Duration `koanf:"resend_cooldown"`
	VerifyEmailTTL    time.Duration `koanf:"verify_email_ttl"`
	ForgotPasswordTTL time.Duration `koanf:"forgot_password_ttl"`
	LoginTTL          time.Duration `koanf:"login_ttl"`
}

// MailConfig selects and configures the mail driver.
type MailConfig struct {
	Driver      string        `koanf:"driver"`
	Domain      string        `koanf:"domain"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Sender      string        `koanf:"sender"`
	MaxRetries  uint64        `koanf:"max_retries"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-format":          "log.format",
	"log-level":           "log.level",
	"http-addr":           "http.addr",
	"cors-origins":        "http.cors_origins",
	"rate-limit":          "http.rate_limit",
	"request-timeout":     "http.request_timeout",
	"shutdown-timeout":    "http.shutdown_timeout",
	"metrics-addr":        "metrics.addr",
	"database-max-conns":  "database.max_conns",
	"auto-migrate":        "database.auto_migrate",
	"client-url":          "auth.client_url",
	"resend-cooldown":     "auth.resend_cooldown",
	"verify-email-ttl":    "auth.verify_email_ttl",
	"forgot-password-ttl": "auth.forgot_password_ttl",
	"login-ttl":           "auth.login_ttl",
	"mail-driver":         "mail.driver",
	"mailgun-domain":      "mail.domain",
	"mailgun-base-url":    "mail.base_url",
	"mail-sender":         "mail.sender",
	"mail-max-retries":    "mail.max_retries",
	"mail-send-timeout":   "mail.send_timeout",
}

// RegisterFlags adds the server flags with their defaults to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := auth.DefaultConfig()

	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("http-addr", ":8080", "public API listen address")
	fs.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins")
	fs.Int("rate-limit", 100, "requests per minute per client IP, 0 disables")
	fs.Duration("request-timeout", 30*time.Second, "per-request timeout")
	fs.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address, empty disables")
	fs.Int32("database-max-conns", 10, "maximum database connections")
	fs.Bool("auto-migrate", true, "apply pending schema migrations at startup")
	fs.String("client-url", "", "base URL of the web client used in mailed links")
	fs.Duration("resend-cooldown", d.ResendCooldown, "minimum interval between verification or reset mails")
	fs.Duration("verify-email-ttl", d.VerifyEmailTTL, "email verification token lifetime")
	fs.Duration("forgot-password-ttl", d.ForgotPasswordTTL, "password reset token lifetime")
	fs.Duration("login-ttl", d.LoginTTL, "session token lifetime")
	fs.String("mail-driver", MailDriverLog, "mail driver (log or mailgun)")
	fs.String("mailgun-domain", "", "Mailgun sending domain")
	fs.String("mailgun-base-url", "", "Mailgun API base URL")
	fs.String("mail-sender", "", "From address, defaults to noreply@<domain>")
	fs.Uint64("mail-max-retries", 3, "Mailgun delivery retries")
	fs.Duration("mail-send-timeout", 30*time.Second, "timeout of a single mail delivery")
}

// Load builds the configuration. Precedence, highest first: flags set on the
// command line, environment secrets, the YAML file at path, flag defaults.
func Load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	for env, key := range map[string]string{
		EnvSecretKey:     "auth.secret_key",
		EnvDatabaseURL:   "database.url",
		EnvMailgunAPIKey: "mail.api_key",
	} {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	var problems []string

	if c.Auth.SecretKey == "" {
		problems = append(problems, EnvSecretKey+" is required")
	}
	if c.Database.URL == "" {
		problems = append(problems, EnvDatabaseURL+" is required")
	}
	if u, err := url.Parse(c.Auth.ClientURL); c.Auth.ClientURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "client URL must be an absolute URL")
	}
	if c.Auth.ResendCooldown < 0 {
		problems = append(problems, "resend cooldown must not be negative")
	}
	if c.Auth.VerifyEmailTTL <= 0 || c.Auth.ForgotPasswordTTL <= 0 || c.Auth.LoginTTL <= 0 {
		problems = append(problems, "token lifetimes must be positive")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http address is required")
	}
	if c.HTTP.RateLimit < 0 {
		problems = append(problems, "rate limit must not be negative")
	}

	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverMailgun:
		if c.Mail.Domain == "" || c.Mail.APIKey == "" {
			problems = append(problems, "mailgun driver needs a domain and "+EnvMailgunAPIKey)
		}
	default:
		problems = append(problems, "unknown mail driver "+c.Mail.Driver)
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ServiceConfig returns the auth.Service settings.
func (c *Config) ServiceConfig() auth.Config {
	return auth.Config{
		ClientURL:         c.Auth.ClientURL,
		ResendCooldown:    c.Auth.ResendCooldown,
		VerifyEmailTTL:    c.Auth.VerifyEmailTTL,
		ForgotPasswordTTL: c.Auth.ForgotPasswordTTL,
		LoginTTL:          c.Auth.LoginTTL,
	}
}
