// Package config provides configuration management for the stenolive client.
// It supports loading configuration from YAML files, .env files, environment
// variables, and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultServerURL          = "http://localhost:1250"
	DefaultTimeout            = 30 * time.Second
	DefaultNegotiationTimeout = 15 * time.Second
	DefaultChunkSizeBytes     = 5 * 1024 * 1024
	DefaultSampleRate         = 48000
	DefaultChannels           = 1
	DefaultLogLevel           = "info"
	DefaultConfigDir          = ".stenolive"
	DefaultConfigFile         = "config.yaml"
	DefaultDBFile             = "stenolive.db"
	DefaultLogFile            = "stenolive.log"
)

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Config holds the client configuration settings.
type Config struct {
	// ServerURL is the base URL of the transcription backend.
	ServerURL string `yaml:"server_url"`

	// Token is sent as a bearer token on every request.
	Token string `yaml:"token,omitempty"`

	// Timeout bounds individual HTTP requests.
	Timeout time.Duration `yaml:"timeout"`

	// NegotiationTimeout bounds the wait for a connected transport.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

	// ChunkSizeBytes is the part size used by the chunked uploader.
	ChunkSizeBytes int64 `yaml:"chunk_size_bytes"`

	// SampleRate and Channels describe the capture format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// ICEServers lists STUN/TURN URLs for the WebRTC transport.
	ICEServers []string `yaml:"ice_servers,omitempty"`

	// DBPath is the local SQLite cache. Empty means <config dir>/stenolive.db.
	DBPath string `yaml:"db_path,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output from console to JSON.
	LogJSON bool `yaml:"log_json,omitempty"`

	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:          DefaultServerURL,
		Timeout:            DefaultTimeout,
		NegotiationTimeout: DefaultNegotiationTimeout,
		ChunkSizeBytes:     DefaultChunkSizeBytes,
		SampleRate:         DefaultSampleRate,
		Channels:           DefaultChannels,
		ICEServers:         append([]string(nil), DefaultICEServers...),
		LogLevel:           DefaultLogLevel,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $STENOLIVE_CONFIG_DIR if set, otherwise ~/.stenolive
func ConfigDir() (string, error) {
	if dir := os.Getenv("STENOLIVE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load loads the configuration.
// Sources are applied in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.stenolive/config.yaml or $STENOLIVE_CONFIG_DIR/config.yaml)
// 3. .env in the working directory and the config dir (existing env wins)
// 4. Environment variables (STENOLIVE_*)
func Load() (*Config, error) {
	cfg := DefaultConfig()

	dir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config dir: %w", err)
	}

	configPath := filepath.Join(dir, DefaultConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadDotEnv(".env", filepath.Join(dir, ".env"))

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dir, DefaultDBFile)
	}
	cfg.DBPath = expandPath(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads whichever .env files exist. Variables already set are not overridden.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Durations are written as strings ("30s").
	type configFile struct {
		ServerURL          string   `yaml:"server_url"`
		Token              string   `yaml:"token"`
		Timeout            string   `yaml:"timeout"`
		NegotiationTimeout string   `yaml:"negotiation_timeout"`
		ChunkSizeBytes     int64    `yaml:"chunk_size_bytes"`
		SampleRate         int      `yaml:"sample_rate"`
		Channels           int      `yaml:"channels"`
		ICEServers         []string `yaml:"ice_servers"`
		DBPath             string   `yaml:"db_path"`
		LogLevel           string   `yaml:"log_level"`
		LogJSON            bool     `yaml:"log_json"`
		MetricsAddr        string   `yaml:"metrics_addr"`
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.ServerURL != "" {
		cfg.ServerURL = fileCfg.ServerURL
	}
	if fileCfg.Token != "" {
		cfg.Token = fileCfg.Token
	}
	if fileCfg.Timeout != "" {
		d, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if fileCfg.NegotiationTimeout != "" {
		d, err := time.ParseDuration(fileCfg.NegotiationTimeout)
		if err != nil {
			return fmt.Errorf("parsing negotiation_timeout: %w", err)
		}
		cfg.NegotiationTimeout = d
	}
	if fileCfg.ChunkSizeBytes != 0 {
		cfg.ChunkSizeBytes = fileCfg.ChunkSizeBytes
	}
	if fileCfg.SampleRate != 0 {
		cfg.SampleRate = fileCfg.SampleRate
	}
	if fileCfg.Channels != 0 {
		cfg.Channels = fileCfg.Channels
	}
	if fileCfg.ICEServers != nil {
		cfg.ICEServers = fileCfg.ICEServers
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.MetricsAddr != "" {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
	cfg.LogJSON = fileCfg.LogJSON

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("STENOLIVE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}

	if v := os.Getenv("STENOLIVE_TOKEN"); v != "" {
		cfg.Token = v
	}

	if v := os.Getenv("STENOLIVE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STENOLIVE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}

	if v := os.Getenv("STENOLIVE_NEGOTIATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STENOLIVE_NEGOTIATION_TIMEOUT: %w", err)
		}
		cfg.NegotiationTimeout = d
	}

	if v := os.Getenv("STENOLIVE_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("STENOLIVE_CHUNK_SIZE: %w", err)
		}
		cfg.ChunkSizeBytes = n
	}

	if v := os.Getenv("STENOLIVE_SAMPLE_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STENOLIVE_SAMPLE_RATE: %w", err)
		}
		cfg.SampleRate = n
	}

	if v := os.Getenv("STENOLIVE_ICE_SERVERS"); v != "" {
		cfg.ICEServers = splitList(v)
	}

	if v := os.Getenv("STENOLIVE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if v := os.Getenv("STENOLIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("STENOLIVE_LOG_JSON"); v == "true" || v == "1" {
		cfg.LogJSON = true
	}

	if v := os.Getenv("STENOLIVE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must be http or https, got %q", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url has no host: %q", c.ServerURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive, got %s", c.NegotiationTimeout)
	}
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive, got %d", c.ChunkSizeBytes)
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Save writes the configuration to the config file, creating the directory.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	type configFile struct {
		ServerURL          string   `yaml:"server_url"`
		Token              string   `yaml:"token,omitempty"`
		Timeout            string   `yaml:"timeout"`
		NegotiationTimeout string   `yaml:"negotiation_timeout"`
		ChunkSizeBytes     int64    `yaml:"chunk_size_bytes"`
		SampleRate         int      `yaml:"sample_rate"`
		Channels           int      `yaml:"channels"`
		ICEServers         []string `yaml:"ice_servers,omitempty"`
		DBPath             string   `yaml:"db_path,omitempty"`
		LogLevel           string   `yaml:"log_level"`
		LogJSON            bool     `yaml:"log_json,omitempty"`
		MetricsAddr        string   `yaml:"metrics_addr,omitempty"`
	}

	data, err := yaml.Marshal(configFile{
		ServerURL:          cfg.ServerURL,
		Token:              cfg.Token,
		Timeout:            cfg.Timeout.String(),
		NegotiationTimeout: cfg.NegotiationTimeout.String(),
		ChunkSizeBytes:     cfg.ChunkSizeBytes,
		SampleRate:         cfg.SampleRate,
		Channels:           cfg.Channels,
		ICEServers:         cfg.ICEServers,
		DBPath:             cfg.DBPath,
		LogLevel:           cfg.LogLevel,
		LogJSON:            cfg.LogJSON,
		MetricsAddr:        cfg.MetricsAddr,
	})
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// LogPath returns where the TUI writes its log file.
func LogPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultLogFile), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
