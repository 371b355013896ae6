// ABOUTME: Configuration loading and parsing for mercury-mcp
// ABOUTME: Supports YAML or TOML files, .env files, environment variable expansion and overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv is the environment variable holding the Mercury API key.
const APIKeyEnv = "MERCURY_API_KEY"

// Defaults applied when the config file leaves a value empty.
const (
	DefaultBaseURL  = "https://api.mercury.com/api/v1"
	DefaultTimeout  = 30 * time.Second
	DefaultMode     = ModeStdio
	DefaultHTTPAddr = "localhost:8080"
)

// Transport modes
const (
	ModeStdio = "stdio"
	ModeHTTP  = "http"
)

// ErrMissingAPIKey is returned by Validate when no Mercury API key is configured.
var ErrMissingAPIKey = errors.New(APIKeyEnv + " is required")

// Config represents the complete mercury-mcp configuration
type Config struct {
	Mercury   MercuryConfig   `yaml:"mercury" toml:"mercury"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// MercuryConfig holds the upstream API settings
type MercuryConfig struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	UserAgent string `yaml:"user_agent" toml:"user_agent"`

	Timeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// TransportConfig selects how MCP clients reach the server
type TransportConfig struct {
	Mode      string `yaml:"mode" toml:"mode"`
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"` // enables bearer auth on /mcp
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"` // optional, in addition to stderr
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path yields the defaults. Environment variables in the format
// ${VAR_NAME} are expanded, and MERCURY_API_KEY overrides mercury.api_key.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadTransport is Load for commands that never call Mercury, such as the
// health check and token minting. The API key may be absent.
func LoadTransport(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateSettings(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func parse(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment (default ".env"). Variables already set are never overwritten
// and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv lets the environment override secrets from the file.
func applyEnv(cfg *Config) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		cfg.Mercury.APIKey = key
	}
}

func applyDefaults(cfg *Config) {
	cfg.Mercury.APIKey = strings.TrimSpace(cfg.Mercury.APIKey)
	if cfg.Mercury.BaseURL == "" {
		cfg.Mercury.BaseURL = DefaultBaseURL
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = DefaultMode
	}
	if cfg.Transport.HTTPAddr == "" {
		cfg.Transport.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Mercury.APIKey == "" {
		return ErrMissingAPIKey
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	if !strings.HasPrefix(c.Mercury.BaseURL, "https://") && !strings.HasPrefix(c.Mercury.BaseURL, "http://") {
		return fmt.Errorf("mercury.base_url must be an http(s) URL, got %q", c.Mercury.BaseURL)
	}

	if c.Mercury.Timeout < 0 {
		return fmt.Errorf("mercury.timeout must not be negative")
	}

	switch c.Transport.Mode {
	case ModeStdio, ModeHTTP:
	default:
		return fmt.Errorf("transport.mode must be %q or %q, got %q", ModeStdio, ModeHTTP, c.Transport.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	cfg.Mercury.Timeout = DefaultTimeout
	if cfg.Mercury.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Mercury.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing mercury.timeout %q: %w", cfg.Mercury.TimeoutRaw, err)
		}
		cfg.Mercury.Timeout = d
	}
	return nil
}
