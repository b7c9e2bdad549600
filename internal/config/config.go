package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the maskview server and CLI.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Poll      PollConfig
	Viewer    ViewerConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type BackendConfig struct {
	BaseURL       string
	CVATBridgeURL string
	Timeout       time.Duration
}

// PollConfig controls the job status poller. MaxAttempts of zero polls
// until a terminal status is observed.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type ViewerConfig struct {
	HydrateConcurrency int
	IdleTimeout        time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

// DatabaseConfig is optional; an empty URL disables push history.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables the status cache and rate limiting.
type RedisConfig struct {
	URL string
}

// AuthConfig carries the CLI credential. The server takes credentials from
// each request instead.
type AuthConfig struct {
	Token     string
	TokenFile string
}

// Load reads configuration from the TOML file named by MASKVIEW_CONFIG (if any)
// and environment variables, and returns a validated Config.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("MASKVIEW_CONFIG"))
}

// LoadFrom is Load with an explicit config file path. An empty path skips the
// file layer. Environment variables always win over file values.
func LoadFrom(path string) (*Config, error) {
	src := source{}
	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	backendURL := strings.TrimSuffix(src.String("BACKEND_BASE_URL", ""), "/")

	cfg := &Config{
		Server: ServerConfig{
			Port: src.Int("MASKVIEW_PORT", 8080),
			Env:  src.String("MASKVIEW_ENV", "development"),
		},
		Backend: BackendConfig{
			BaseURL:       backendURL,
			CVATBridgeURL: strings.TrimSuffix(src.String("CVAT_BRIDGE_URL", backendURL), "/"),
			Timeout:       src.Duration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Poll: PollConfig{
			Interval:    src.Duration("POLL_INTERVAL", 5*time.Second),
			MaxAttempts: src.Int("POLL_MAX_ATTEMPTS", 0),
		},
		Viewer: ViewerConfig{
			HydrateConcurrency: src.Int("HYDRATE_CONCURRENCY", 8),
			IdleTimeout:        src.Duration("VIEW_IDLE_TIMEOUT", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			PerMinute: src.Int("RATE_LIMIT_PER_MIN", 120),
		},
		Database: DatabaseConfig{
			URL:             src.String("DATABASE_URL", ""),
			MaxOpenConns:    src.Int("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    src.Int("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: src.Duration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: src.String("REDIS_URL", ""),
		},
		Auth: AuthConfig{
			Token:     src.String("MASKVIEW_TOKEN", ""),
			TokenFile: src.String("MASKVIEW_TOKEN_FILE", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !isHTTPURL(c.Backend.BaseURL) {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}
	if !isHTTPURL(c.Backend.CVATBridgeURL) {
		return fmt.Errorf("CVAT_BRIDGE_URL must start with http:// or https://, got %q", c.Backend.CVATBridgeURL)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be zero (unbounded) or positive, got %d", c.Poll.MaxAttempts)
	}

	if c.Viewer.HydrateConcurrency < 1 {
		return fmt.Errorf("HYDRATE_CONCURRENCY must be at least 1, got %d", c.Viewer.HydrateConcurrency)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	return nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) String(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) Int(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) Duration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
