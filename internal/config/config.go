// Package config handles application configuration via environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the SSO gateway.
type Config struct {
	// Server settings
	Host string `env:"SSO_HOST" env-default:"0.0.0.0"`
	Port int    `env:"SSO_PORT" env-default:"8080"`

	// Environment: "development" or "production". In development the
	// monitoring admin endpoint is open and cookies are not forced secure.
	Environment string `env:"SSO_ENVIRONMENT" env-default:"development"`

	// Registered domains. Origins are exact-match, scheme included.
	AuthDomain        string `env:"SSO_AUTH_DOMAIN" env-default:"auth.aldari.app"`
	AppDomain         string `env:"SSO_APP_DOMAIN" env-default:"home.aldari.app"`
	RegisteredOrigins string `env:"SSO_REGISTERED_ORIGINS" env-default:"https://auth.aldari.app,https://home.aldari.app"`

	// CookieDomain is the shared parent domain session cookies are scoped to.
	CookieDomain string `env:"SSO_COOKIE_DOMAIN" env-default:"aldari.app"`
	CookieSecure bool   `env:"SSO_COOKIE_SECURE" env-default:"true"`

	// Secrets. Auto-generated when empty (sessions won't survive restarts
	// in that case, which is acceptable for development).
	CSRFSecret    string `env:"SSO_CSRF_SECRET"`
	SigningSecret string `env:"SSO_SIGNING_SECRET"`

	// Landing paths for redirect decisions.
	SignInPath  string `env:"SSO_SIGN_IN_PATH" env-default:"/sign-in"`
	LandingPath string `env:"SSO_LANDING_PATH" env-default:"/dashboard"`

	// TTLs
	SessionTTL        time.Duration `env:"SSO_SESSION_TTL" env-default:"24h"`
	TokenTTL          time.Duration `env:"SSO_TOKEN_TTL" env-default:"5m"`
	CSRFTTL           time.Duration `env:"SSO_CSRF_TTL" env-default:"15m"`
	SessionLookupTime time.Duration `env:"SSO_SESSION_LOOKUP_TIMEOUT" env-default:"2500ms"`

	// Rate limiting: fixed window plus per-action limits.
	RateLimitWindow     time.Duration `env:"SSO_RATE_LIMIT_WINDOW" env-default:"60s"`
	TokenIssueLimit     int           `env:"SSO_TOKEN_ISSUE_LIMIT" env-default:"5"`
	TokenValidateLimit  int           `env:"SSO_TOKEN_VALIDATE_LIMIT" env-default:"10"`
	TokenRevokeLimit    int           `env:"SSO_TOKEN_REVOKE_LIMIT" env-default:"5"`
	SignInLimit         int           `env:"SSO_SIGN_IN_LIMIT" env-default:"5"`
	CSRFLimit           int           `env:"SSO_CSRF_LIMIT" env-default:"20"`
	GeneralRequestLimit int           `env:"SSO_GENERAL_REQUEST_LIMIT" env-default:"120"`

	// Security ledger
	EventRetention time.Duration `env:"SSO_EVENT_RETENTION" env-default:"168h"`

	// Monitoring admin bearer token. Required outside development.
	AdminToken string `env:"SSO_ADMIN_TOKEN"`

	// Storage settings
	DataDir string `env:"SSO_DATA_DIR" env-default:"./data"`

	// Logging
	LogLevel  string `env:"SSO_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"SSO_LOG_FORMAT" env-default:"json"` // json or text

	// Bootstrap users created on startup if not present.
	// Format: "email:password:name,email2:password2:name2"
	BootstrapUsers string `env:"SSO_BOOTSTRAP_USERS"`

	// Internal flags (not from env)
	SecretsGenerated bool `env:"-"` // True if a secret was auto-generated
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.CSRFSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate CSRF secret: %w", err)
		}
		cfg.CSRFSecret = secret
		cfg.SecretsGenerated = true
	}
	if cfg.SigningSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		cfg.SigningSecret = secret
		cfg.SecretsGenerated = true
	}

	if !cfg.IsDevelopment() && cfg.AdminToken == "" {
		return nil, fmt.Errorf("SSO_ADMIN_TOKEN is required outside development")
	}

	return &cfg, nil
}

// Addr returns the server address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Origins returns the registered origin allow-list. Entries are exact
// origins with scheme, e.g. "https://home.aldari.app".
func (c *Config) Origins() []string {
	var origins []string
	for _, entry := range strings.Split(c.RegisteredOrigins, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		origins = append(origins, entry)
	}
	return origins
}

// Domains returns the registered hostnames tokens may be issued for,
// derived from the origin allow-list.
func (c *Config) Domains() []string {
	var domains []string
	for _, origin := range c.Origins() {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		domains = append(domains, u.Host)
	}
	return domains
}

// generateRandomSecret generates a cryptographically secure random string.
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// BootstrapUser represents a user to be created on startup.
type BootstrapUser struct {
	Email    string
	Password string
	Name     string
}

// ParseBootstrapUsers parses the SSO_BOOTSTRAP_USERS environment variable.
// Format: "email:password:name,email2:password2:name2"
func (c *Config) ParseBootstrapUsers() []BootstrapUser {
	if c.BootstrapUsers == "" {
		return nil
	}

	var users []BootstrapUser
	for _, entry := range strings.Split(c.BootstrapUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			continue
		}

		user := BootstrapUser{
			Email:    strings.TrimSpace(parts[0]),
			Password: strings.TrimSpace(parts[1]),
		}
		if len(parts) >= 3 {
			user.Name = strings.TrimSpace(parts[2])
		}
		users = append(users, user)
	}
	return users
}
