package config

import (
	"fmt"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Providers   ProvidersConfig `yaml:"providers"`
	Environment string          `yaml:"environment" default:"local"` // local, dev, prod
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host" default:"localhost"`
	Port int    `yaml:"port" default:"8080"`
	// PublicBaseURL is the externally reachable base URL used to build
	// provider redirect URIs, e.g. "https://connections.lightfast.ai".
	PublicBaseURL string `yaml:"public_base_url"`
	// ConsoleBaseURL is where the browser lands after a callback, e.g.
	// "https://console.lightfast.ai".
	ConsoleBaseURL string `yaml:"console_base_url"`
	// SessionSecret signs the authorize/callback CSRF cookie (base64).
	SessionSecret string `yaml:"session_secret"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database" default:"connections"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" default:"disable"` // disable, require, verify-ca, verify-full
}

// RedisConfig holds the ephemeral state store configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProvidersConfig holds per-provider OAuth/installation credentials
type ProvidersConfig struct {
	GitHub GitHubConfig `yaml:"github"`
	Vercel VercelConfig `yaml:"vercel"`
	Sentry SentryConfig `yaml:"sentry"`
	Linear LinearConfig `yaml:"linear"`
}

// GitHubConfig holds GitHub App credentials
type GitHubConfig struct {
	AppID         int64  `yaml:"app_id"`
	AppSlug       string `yaml:"app_slug"`
	PrivateKey    string `yaml:"private_key"` // PEM, usually via ${GITHUB_APP_PRIVATE_KEY}
	WebhookSecret string `yaml:"webhook_secret"`
}

// VercelConfig holds Vercel integration credentials
type VercelConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	IntegrationSlug string `yaml:"integration_slug"`
}

// SentryConfig holds Sentry integration credentials
type SentryConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	IntegrationSlug string `yaml:"integration_slug"`
}

// LinearConfig holds Linear OAuth credentials
type LinearConfig struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Scopes        []string `yaml:"scopes"`
	WebhookSecret string   `yaml:"webhook_secret"`
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}
