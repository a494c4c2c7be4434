package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Identity  IdentityConfig  `yaml:"identity"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int            `yaml:"port"`
	Host            string         `yaml:"host"`
	BaseURL         string         `yaml:"base_url"` // Optional: public URL used for the OAuth callback
	SiteName        string         `yaml:"site_name"`
	ReadTimeout     time.Duration  `yaml:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout"`
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Security        SecurityConfig `yaml:"security"`
}

// SecurityConfig contains security-related settings
type SecurityConfig struct {
	CSRFEnabled     bool                  `yaml:"csrf_enabled"`
	MaxRequestBytes int64                 `yaml:"max_request_bytes"`
	Headers         SecurityHeadersConfig `yaml:"headers"`
}

// SecurityHeadersConfig contains HTTP security header settings
type SecurityHeadersConfig struct {
	XFrameOptions           string `yaml:"x_frame_options"`
	XContentTypeOptions     string `yaml:"x_content_type_options"`
	ReferrerPolicy          string `yaml:"referrer_policy"`
	ContentSecurityPolicy   string `yaml:"content_security_policy"`
	StrictTransportSecurity string `yaml:"strict_transport_security"`
}

// IdentityConfig points at the hosted identity service
type IdentityConfig struct {
	URL     string        `yaml:"url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig contains browser cookie and in-memory state settings
type SessionConfig struct {
	Secret         string        `yaml:"secret"`
	MaxAge         int           `yaml:"max_age"`
	CookieSecure   string        `yaml:"cookie_secure"`   // "auto", "true", "false"
	CookieSameSite string        `yaml:"cookie_samesite"` // "strict", "lax", "none"
	Capacity       int           `yaml:"capacity"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
	RetainFor      time.Duration `yaml:"retain_for"` // stored sessions untouched this long are purged at startup
}

// StorageConfig contains database settings
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RateLimitConfig contains per-IP limits for auth submits
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	Burst             int           `yaml:"burst"`
}

// Load reads configuration from the specified file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML, expanding environment variables
// and applying defaults before validation
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if set
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		cfg.Identity.URL = url
	}
	if key := os.Getenv("SUPABASE_ANON_KEY"); key != "" {
		cfg.Identity.AnonKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for any field the file omits
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "localhost",
			SiteName:        "website name",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Security: SecurityConfig{
				CSRFEnabled:     true,
				MaxRequestBytes: 1 << 20,
				Headers: SecurityHeadersConfig{
					XFrameOptions:           "DENY",
					XContentTypeOptions:     "nosniff",
					ReferrerPolicy:          "strict-origin-when-cross-origin",
					ContentSecurityPolicy:   "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'",
					StrictTransportSecurity: "max-age=31536000; includeSubDomains",
				},
			},
		},
		Identity: IdentityConfig{
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MaxAge:         30 * 24 * 60 * 60,
			CookieSecure:   "auto",
			CookieSameSite: "lax",
			Capacity:       10000,
			IdleTTL:        30 * time.Minute,
			RetainFor:      30 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			DBPath: "./data/supalogin.db",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 10,
			WindowDuration:    time.Minute,
			Burst:             5,
		},
	}
}

// Validate checks that all required configuration fields are set
func (c *Config) Validate() error {
	// Identity validation
	if c.Identity.URL == "" || strings.Contains(c.Identity.URL, "${") {
		return fmt.Errorf("identity.url is required (set SUPABASE_URL environment variable)")
	}
	if c.Identity.AnonKey == "" || strings.Contains(c.Identity.AnonKey, "${") {
		return fmt.Errorf("identity.anon_key is required (set SUPABASE_ANON_KEY environment variable)")
	}

	// Session validation
	if c.Session.Secret == "" || strings.Contains(c.Session.Secret, "${") {
		return fmt.Errorf("session.secret is required (set SESSION_SECRET environment variable)")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}
	switch strings.ToLower(c.Session.CookieSecure) {
	case "auto", "true", "false":
	default:
		return fmt.Errorf("session.cookie_secure must be auto, true or false")
	}
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("session.cookie_samesite must be strict, lax or none")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Storage validation
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Rate limit validation
	if c.RateLimit.RequestsPerWindow < 1 {
		return fmt.Errorf("rate_limit.requests_per_window must be at least 1")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate_limit.window_duration must be positive")
	}

	return nil
}

// GetAddr returns the full server address (host:port)
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetBaseURL returns the public base URL
// Uses base_url if set, otherwise constructs from host:port
func (c *Config) GetBaseURL() string {
	if c.Server.BaseURL != "" {
		return strings.TrimRight(c.Server.BaseURL, "/")
	}
	return fmt.Sprintf("http://%s", c.GetAddr())
}

// CallbackURL is where the identity service returns the browser after OAuth
func (c *Config) CallbackURL() string {
	return c.GetBaseURL() + "/auth/callback"
}

// IsHTTPS returns true if the base URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(strings.ToLower(c.GetBaseURL()), "https://")
}

// CookieSecure resolves cookie_secure, where "auto" follows the base URL
func (c *Config) CookieSecure() bool {
	switch strings.ToLower(c.Session.CookieSecure) {
	case "true":
		return true
	case "false":
		return false
	}
	return c.IsHTTPS()
}

// CookieSameSite resolves cookie_samesite
func (c *Config) CookieSameSite() http.SameSite {
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
