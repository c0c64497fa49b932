// Package config handles apiconsole configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/apiconsole/config.yaml, /etc/apiconsole/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "apiconsole", "config.yaml"))
	}

	paths = append(paths, "/etc/apiconsole/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all apiconsole configuration.
type Config struct {
	Listen     ListenConfig    `yaml:"listen"`
	CORSOrigin string          `yaml:"cors_origin"`
	LogLevel   string          `yaml:"log_level"`
	LogFormat  string          `yaml:"log_format"` // text (default) or json
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	Providers  ProvidersConfig `yaml:"providers"`
	History    HistoryConfig   `yaml:"history"`
	Session    SessionConfig   `yaml:"session"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig selects the SQLite file and driver.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// Driver is the database/sql driver name: "sqlite3" (mattn, cgo)
	// or "sqlite" (modernc, pure Go).
	Driver string `yaml:"driver"`
}

// AuthConfig defines bearer credential issuance and verification.
type AuthConfig struct {
	JWTSecret  string         `yaml:"jwt_secret"`
	Issuer     string         `yaml:"issuer"`
	AccessTTL  time.Duration  `yaml:"access_ttl"`
	RefreshTTL time.Duration  `yaml:"refresh_ttl"`
	HostedUI   HostedUIConfig `yaml:"hosted_ui"`
}

// HostedUIConfig describes an external login page. Only used to build
// the URLs returned by GET /auth/urls.
type HostedUIConfig struct {
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"client_id"`
	RedirectBase string `yaml:"redirect_base"` // defaults to cors_origin
}

// ProvidersConfig holds upstream base URLs and transport settings. The
// URLs are overridable so tests and staging can point at fakes.
type ProvidersConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RetryCount     int           `yaml:"retry_count"`
	WeatherURL     string        `yaml:"weather_url"`
	CatFactsURL    string        `yaml:"catfacts_url"`
	ChuckNorrisURL string        `yaml:"chucknorris_url"`
	GitHubURL      string        `yaml:"github_url"`
	GitHubToken    string        `yaml:"github_token"`
	GitHubLimit    int           `yaml:"github_limit"`
	BoredURL       string        `yaml:"bored_url"`
}

// HistoryConfig controls history listing and the async recorder.
type HistoryConfig struct {
	PageSize  int `yaml:"page_size"`
	QueueSize int `yaml:"queue_size"`
}

// SessionConfig controls the WebSocket gate.
type SessionConfig struct {
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Load reads configuration from a YAML file. Defaults are applied for
// anything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a default configuration. The JWT secret is left empty
// and must be supplied before serving.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in missing optional fields with sensible values.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 3001
	}
	if c.CORSOrigin == "" {
		c.CORSOrigin = "http://localhost:3000"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./db.sqlite"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "apiconsole"
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = time.Hour
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.Auth.HostedUI.RedirectBase == "" {
		c.Auth.HostedUI.RedirectBase = c.CORSOrigin
	}

	p := &c.Providers
	if p.Timeout == 0 {
		p.Timeout = 5 * time.Second
	}
	if p.WeatherURL == "" {
		p.WeatherURL = "https://api.open-meteo.com/v1"
	}
	if p.CatFactsURL == "" {
		p.CatFactsURL = "https://catfact.ninja"
	}
	if p.ChuckNorrisURL == "" {
		p.ChuckNorrisURL = "https://api.chucknorris.io/jokes"
	}
	if p.GitHubURL == "" {
		p.GitHubURL = "https://api.github.com"
	}
	if p.GitHubLimit == 0 {
		p.GitHubLimit = 5
	}
	if p.BoredURL == "" {
		p.BoredURL = "https://bored-api.appbrewery.com"
	}

	if c.History.PageSize == 0 {
		c.History.PageSize = 50
	}
	if c.History.QueueSize == 0 {
		c.History.QueueSize = 256
	}

	if c.Session.AuthTimeout == 0 {
		c.Session.AuthTimeout = 10 * time.Second
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = 10 * time.Second
	}
	if c.Session.CommandTimeout == 0 {
		c.Session.CommandTimeout = 30 * time.Second
	}
}

// Validate checks that the configuration is usable for serving.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported (use sqlite3 or sqlite)", c.Database.Driver)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q not supported (use text or json)", c.LogFormat)
	}
	if c.History.PageSize < 0 {
		return fmt.Errorf("history.page_size must not be negative")
	}
	return nil
}
