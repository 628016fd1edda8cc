// Package config handles loading and validation of application configuration.
// Values come from built-in defaults, an optional YAML file, environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/scottbrown/lokibridge/internal/logging"
)

const (
	// DefaultHost binds all interfaces.
	DefaultHost = "0.0.0.0"
	// DefaultPort is the WebSocket listen port.
	DefaultPort = 8765
	// DefaultLokiURL is the Loki push endpoint in the compose deployment.
	DefaultLokiURL = "http://loki:3100/loki/api/v1/push"
	// DefaultLokiTimeout bounds a single push.
	DefaultLokiTimeout = 15 * time.Second
	// DefaultMaxMessageBytes is the largest accepted message (1 MiB).
	DefaultMaxMessageBytes int64 = 1 << 20
	// DefaultHealthCheckAddr is the default address for the health check server.
	DefaultHealthCheckAddr = ":9099"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed config.template.yml
var configTemplate string

// Config represents the complete application configuration.
type Config struct {
	Host               string            `mapstructure:"websocket_host" yaml:"websocket_host"`
	Port               int               `mapstructure:"websocket_port" yaml:"websocket_port"`
	OriginPatterns     []string          `mapstructure:"origin_patterns" yaml:"origin_patterns"`
	MaxMessageBytes    int64             `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LokiURL            string            `mapstructure:"loki_url" yaml:"loki_url"`
	LokiTimeout        time.Duration     `mapstructure:"loki_timeout" yaml:"loki_timeout"`
	LokiTenantID       string            `mapstructure:"loki_tenant_id" yaml:"loki_tenant_id"`
	LokiGzip           bool              `mapstructure:"loki_gzip" yaml:"loki_gzip"`
	DefaultSource      string            `mapstructure:"default_source" yaml:"default_source"`
	DefaultLevel       string            `mapstructure:"default_level" yaml:"default_level"`
	ExtraLabels        map[string]string `mapstructure:"extra_labels" yaml:"extra_labels"`
	LogLevel           string            `mapstructure:"log_level" yaml:"log_level"`
	LogFormat          string            `mapstructure:"log_format" yaml:"log_format"`
	MetricsAddr        string            `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	HealthCheckEnabled bool              `mapstructure:"health_check_enabled" yaml:"health_check_enabled"`
	HealthCheckAddr    string            `mapstructure:"health_check_addr" yaml:"health_check_addr"`
}

// ListenAddr joins host and port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":              "websocket_host",
	"port":              "websocket_port",
	"loki-url":          "loki_url",
	"loki-timeout":      "loki_timeout",
	"loki-tenant-id":    "loki_tenant_id",
	"loki-gzip":         "loki_gzip",
	"max-message-bytes": "max_message_bytes",
	"log-level":         "log_level",
	"log-format":        "log_format",
	"metrics-addr":      "metrics_addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("websocket_host", DefaultHost)
	v.SetDefault("websocket_port", DefaultPort)
	v.SetDefault("origin_patterns", []string{"*"})
	v.SetDefault("max_message_bytes", DefaultMaxMessageBytes)
	v.SetDefault("loki_url", DefaultLokiURL)
	v.SetDefault("loki_timeout", DefaultLokiTimeout.String())
	v.SetDefault("loki_tenant_id", "")
	v.SetDefault("loki_gzip", false)
	v.SetDefault("default_source", "websocket")
	v.SetDefault("default_level", "info")
	v.SetDefault("extra_labels", map[string]any{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("health_check_enabled", false)
	v.SetDefault("health_check_addr", DefaultHealthCheckAddr)
}

// Load reads configuration. configFile may be empty, in which case only
// defaults, environment variables and flags apply. flags may be nil.
// Environment variables use the upper-cased key, e.g. LOKI_URL.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma separated lists from the environment arrive as a single element.
	cfg.OriginPatterns = splitList(cfg.OriginPatterns)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting and returns the first problem found.
func Validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: websocket_port %d out of range 1-65535", ErrInvalidConfig, cfg.Port)
	}
	if err := validateLokiURL(cfg.LokiURL); err != nil {
		return fmt.Errorf("%w: loki_url: %v", ErrInvalidConfig, err)
	}
	if cfg.LokiTimeout <= 0 {
		return fmt.Errorf("%w: loki_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.DefaultSource) == "" {
		return fmt.Errorf("%w: default_source must not be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.DefaultLevel) == "" {
		return fmt.Errorf("%w: default_level must not be empty", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log_format must be json or text, got %q", ErrInvalidConfig, cfg.LogFormat)
	}
	if cfg.HealthCheckEnabled && cfg.HealthCheckAddr == "" {
		return fmt.Errorf("%w: health_check_addr is required when health checks are enabled", ErrInvalidConfig)
	}
	return nil
}

// validateLokiURL validates the push URL format
func validateLokiURL(lokiURL string) error {
	u, err := url.Parse(lokiURL)
	if err != nil {
		return err
	}

	// Must be HTTP/HTTPS
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}

	// Host must be specified
	if u.Host == "" {
		return fmt.Errorf("must include host")
	}

	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// GetTemplate returns the embedded YAML configuration template.
// This template can be used to generate a sample configuration file.
func GetTemplate() string {
	return configTemplate
}
