package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string

	BackendBaseURL string
	BackendToken   string
	FacetTimeout   time.Duration

	CacheTTL     time.Duration
	SweepMaxAge  time.Duration
	StoreBackend string // "memory", "sqlite" or "memcached"
	SQLitePath   string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	GeolocateURL     string
	GeolocateTimeout time.Duration

	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	RateLimitRPS   int
	RateLimitBurst int
	RequestTimeout time.Duration

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Backend struct {
		BaseURL      string `yaml:"base_url"`
		FacetTimeout string `yaml:"facet_timeout"`
	} `yaml:"backend"`

	Cache struct {
		TTL         string `yaml:"ttl"`
		SweepMaxAge string `yaml:"sweep_max_age"`
		Backend     string `yaml:"backend"`
		SQLitePath  string `yaml:"sqlite_path"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Geolocate struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"geolocate"`

	Netstate struct {
		ProbeURL      string `yaml:"probe_url"`
		ProbeInterval string `yaml:"probe_interval"`
		ProbeTimeout  string `yaml:"probe_timeout"`
	} `yaml:"netstate"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), a
// .env file when present, and environment variables. API_BASE_URL and
// API_TOKEN env values win over the file. Call from project root.
func Load() (*Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Env-only configuration is allowed.
	} else if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = os.Getenv("PORT")
	if cfg.ServerPort == "" {
		cfg.ServerPort = fc.Server.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.BackendBaseURL = os.Getenv("API_BASE_URL")
	if cfg.BackendBaseURL == "" {
		cfg.BackendBaseURL = fc.Backend.BaseURL
	}
	if cfg.BackendBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL required (set env, .env, or backend.base_url)")
	}
	cfg.BackendBaseURL = strings.TrimRight(cfg.BackendBaseURL, "/")
	cfg.BackendToken = os.Getenv("API_TOKEN")

	cfg.FacetTimeout = parseDuration(fc.Backend.FacetTimeout, 3*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.SweepMaxAge = parseDuration(fc.Cache.SweepMaxAge, 24*time.Hour)
	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "sqlite"
	}
	cfg.SQLitePath = fc.Cache.SQLitePath
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "weatherwave.db"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.GeolocateURL = fc.Geolocate.URL
	if cfg.GeolocateURL == "" {
		cfg.GeolocateURL = "http://ip-api.com/json"
	}
	cfg.GeolocateTimeout = parseDuration(fc.Geolocate.Timeout, 10*time.Second)

	cfg.ProbeURL = fc.Netstate.ProbeURL
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.BackendBaseURL + "/health/"
	}
	cfg.ProbeInterval = parseDuration(fc.Netstate.ProbeInterval, 30*time.Second)
	cfg.ProbeTimeout = parseDuration(fc.Netstate.ProbeTimeout, 2*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout must leave room
// for at least one full facet attempt; the sweep window must not be
// shorter than the freshness TTL or offline fallback loses its stock.
func validate(cfg *Config) error {
	if cfg.RequestTimeout <= cfg.FacetTimeout {
		cfg.RequestTimeout = cfg.FacetTimeout + time.Second
	}
	if cfg.SweepMaxAge < cfg.CacheTTL {
		return fmt.Errorf("cache.sweep_max_age (%s) must be >= cache.ttl (%s)", cfg.SweepMaxAge, cfg.CacheTTL)
	}
	switch cfg.StoreBackend {
	case "memory", "sqlite", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be memory, sqlite or memcached, got %q", cfg.StoreBackend)
	}
	return nil
}
