package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Deployment values such as ${PUBLIC_HOST} usually end up in replacements
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validate checks configuration for errors. Pattern syntax is left to the
// rewrite filter so that validate: false keeps its lazy semantics.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	switch {
	case cfg.Upstream == "" && cfg.StaticDir == "":
		return fmt.Errorf("one of upstream or static_dir is required")
	case cfg.Upstream != "" && cfg.StaticDir != "":
		return fmt.Errorf("upstream and static_dir are mutually exclusive")
	case cfg.Upstream != "":
		u, err := url.Parse(cfg.Upstream)
		if err != nil {
			return fmt.Errorf("upstream: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream: unsupported scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream: host is required")
		}
	}

	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be >= 0")
	}

	if cfg.Logging.Level != "" && !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging: invalid level %q", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics: path must start with /")
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be between 0.0 and 1.0")
	}

	if strings.TrimSpace(cfg.Rewrite.Charset) == "" {
		return fmt.Errorf("rewrite: charset is required")
	}
	for i, ct := range cfg.Rewrite.ContentTypes {
		if !strings.Contains(ct, "/") {
			return fmt.Errorf("rewrite: content_types[%d]: %q is not a media type", i, ct)
		}
	}
	if cfg.Rewrite.MaxDecodedBytes < 0 {
		return fmt.Errorf("rewrite: max_decoded_bytes must be >= 0")
	}

	return nil
}
