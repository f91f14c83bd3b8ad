package config

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the complete rewriter configuration
type Config struct {
	Listen          string        `yaml:"listen"`
	Upstream        string        `yaml:"upstream"`   // reverse-proxy target
	StaticDir       string        `yaml:"static_dir"` // or a directory served as-is
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Watch           bool          `yaml:"watch"` // reload the rewrite rules when the file changes
	Logging         LoggingConfig `yaml:"logging"`
	Metrics         MetricsConfig `yaml:"metrics"`
	Tracing         TracingConfig `yaml:"tracing"`
	Rewrite         RewriteConfig `yaml:"rewrite"`
}

// RewriteConfig defines the response body substitution settings.
type RewriteConfig struct {
	Charset          string   `yaml:"charset"`           // body charset, resolved by WHATWG name
	Validate         bool     `yaml:"validate"`          // compile patterns at startup
	ContentTypes     []string `yaml:"content_types"`     // empty matches every response
	DecodeCompressed bool     `yaml:"decode_compressed"` // decode gzip/deflate/br/zstd before rewriting
	MaxDecodedBytes  int64    `yaml:"max_decoded_bytes"` // larger decoded bodies pass through untouched
	Rules            Rules    `yaml:"rules"`
}

// Rule is a single pattern -> replacement pair.
type Rule struct {
	Pattern     string
	Replacement string // may reference capture groups ($1, ${name})
}

// Rules is the rule mapping in document order.
type Rules []Rule

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (r *Rules) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ms yaml.MapSlice
	if err := unmarshal(&ms); err != nil {
		return fmt.Errorf("rules must be a mapping of pattern to replacement: %w", err)
	}

	rules := make(Rules, 0, len(ms))
	for _, item := range ms {
		rules = append(rules, Rule{
			Pattern:     scalar(item.Key),
			Replacement: scalar(item.Value),
		})
	}
	*r = rules
	return nil
}

// MarshalYAML encodes the rules back into an ordered mapping.
func (r Rules) MarshalYAML() (interface{}, error) {
	ms := make(yaml.MapSlice, 0, len(r))
	for _, rule := range r {
		ms = append(ms, yaml.MapItem{Key: rule.Pattern, Value: rule.Replacement})
	}
	return ms, nil
}

func scalar(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string            `yaml:"level"`
	Output    string            `yaml:"output"`     // stdout, stderr or a file path
	AccessLog bool              `yaml:"access_log"` // one entry per proxied request
	Rotation  LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig defines distributed tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool              `yaml:"insecure"`    // use insecure gRPC connection
	Headers     map[string]string `yaml:"headers"`     // extra headers for OTLP exporter
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		ShutdownTimeout: 10 * time.Second,
		Logging: LoggingConfig{
			Level:     "info",
			Output:    "stdout",
			AccessLog: true,
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "rewriter",
			SampleRate:  1.0,
		},
		Rewrite: RewriteConfig{
			Charset:          "utf-8",
			Validate:         true,
			DecodeCompressed: true,
			MaxDecodedBytes:  64 << 20,
		},
	}
}
