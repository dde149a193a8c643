// Package config provides centralized configuration management for the application.
// Values come from built-in defaults, an optional TOML file, and environment
// variables, in increasing order of precedence. All settings are validated on
// startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Extraction ExtractionConfig `toml:"extraction"`
	Upload     UploadConfig     `toml:"upload"`
	OAuth      OAuthConfig      `toml:"oauth"`
	Session    SessionConfig    `toml:"session"`
	Rate       RateLimitConfig  `toml:"rate_limit"`
	Security   SecurityConfig   `toml:"security"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" toml:"host" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" toml:"port" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request, including
	// the uploaded drawing (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" toml:"read_timeout" default:"60s"`

	// WriteTimeout must outlast an extraction round trip (default: 6m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" toml:"write_timeout" default:"6m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" toml:"idle_timeout" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" toml:"shutdown_timeout" default:"30s"`

	// PublicURL is the externally visible base URL, used to build the OAuth
	// redirect when OAUTH_REDIRECT_URL is unset (default: http://localhost:8080)
	PublicURL string `env:"PUBLIC_URL" toml:"public_url" default:"http://localhost:8080"`
}

// ExtractionConfig points at the remote feature-extraction service.
type ExtractionConfig struct {
	// BaseURL of the service. VITE_API_URL is accepted for compatibility
	// with existing deployments (default: http://localhost:8000)
	BaseURL string `env:"BOQ_API_URL" envAlt:"VITE_API_URL" toml:"base_url" default:"http://localhost:8000"`

	// ProcessPath is appended to BaseURL (default: /process)
	ProcessPath string `env:"BOQ_PROCESS_PATH" toml:"process_path" default:"/process"`

	// Timeout bounds one submission end to end (default: 5m)
	Timeout time.Duration `env:"EXTRACT_TIMEOUT" toml:"timeout" default:"5m"`
}

// UploadConfig holds drawing upload settings.
type UploadConfig struct {
	// MaxFileSize accepts human sizes such as "100MB" (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" toml:"max_file_size" default:"100MB" size:"bytes"`

	// AllowedExtensions is a comma-separated list (default: .dwg,.dxf)
	AllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" toml:"allowed_extensions" default:".dwg,.dxf"`

	// MaxConcurrent is the maximum number of submissions across all sessions (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" toml:"max_concurrent" default:"5"`

	// MaxWaitTime is how long to wait for a submission slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" toml:"max_wait_time" default:"30s"`

	// RequireLogin gates uploads behind Google sign-in (default: true)
	RequireLogin bool `env:"UPLOAD_REQUIRE_LOGIN" toml:"require_login" default:"true"`
}

// OAuthConfig holds Google sign-in settings.
type OAuthConfig struct {
	// ClientID is required when UPLOAD_REQUIRE_LOGIN is true
	ClientID string `env:"GOOGLE_CLIENT_ID" envAlt:"VITE_GOOGLE_CLIENT_ID" toml:"client_id"`

	// ClientSecret is the OAuth client secret
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET" toml:"client_secret"`

	// RedirectURL defaults to PUBLIC_URL + /auth/callback
	RedirectURL string `env:"OAUTH_REDIRECT_URL" toml:"redirect_url"`

	// Scopes requested at login (default: gmail.send, email, profile)
	Scopes []string `env:"OAUTH_SCOPES" toml:"scopes" default:"https://www.googleapis.com/auth/gmail.send,email,profile"`

	// UserInfoURL is where the identity is fetched from
	UserInfoURL string `env:"OAUTH_USERINFO_URL" toml:"userinfo_url" default:"https://www.googleapis.com/oauth2/v3/userinfo"`

	// RevokeURL is called on logout when RevokeOnLogout is set
	RevokeURL string `env:"OAUTH_REVOKE_URL" toml:"revoke_url" default:"https://oauth2.googleapis.com/revoke"`

	// RevokeOnLogout revokes the access token at the provider (default: true)
	RevokeOnLogout bool `env:"OAUTH_REVOKE_ON_LOGOUT" toml:"revoke_on_logout" default:"true"`
}

// SessionConfig holds browser session settings.
type SessionConfig struct {
	// CookieName carries the workspace id (default: boq_session)
	CookieName string `env:"SESSION_COOKIE_NAME" toml:"cookie_name" default:"boq_session"`

	// CookieSecure sets the Secure attribute; enable behind TLS (default: false)
	CookieSecure bool `env:"SESSION_COOKIE_SECURE" toml:"cookie_secure" default:"false"`

	// IdleTimeout evicts workspaces unused for this long (default: 2h)
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" toml:"idle_timeout" default:"2h"`

	// SweepInterval is how often idle workspaces are evicted (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" toml:"sweep_interval" default:"5m"`

	// MaxWorkspaces caps live workspaces; 0 means no cap (default: 1000)
	MaxWorkspaces int `env:"SESSION_MAX_WORKSPACES" toml:"max_workspaces" default:"1000"`

	// MaxRetainedBytes caps selected drawings held across all workspaces;
	// 0 means no cap (default: 2GB)
	MaxRetainedBytes int64 `env:"SESSION_MAX_RETAINED" toml:"max_retained" default:"2GB" size:"bytes"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" toml:"enabled" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" toml:"requests_per_minute" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" toml:"upload_limit" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES" toml:"trusted_proxies"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" toml:"enable_csp" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" toml:"level" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" toml:"format" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CallbackURL returns the OAuth redirect URL.
func (c *Config) CallbackURL() string {
	if c.OAuth.RedirectURL != "" {
		return c.OAuth.RedirectURL
	}
	return strings.TrimRight(c.Server.PublicURL, "/") + "/auth/callback"
}

