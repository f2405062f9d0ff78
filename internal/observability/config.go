package observability

import (
	"fmt"
	"slices"
	"strings"
)

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json text"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name,omitempty"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=0,max=1"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	TLSCertFile string  `mapstructure:"tls_cert_file" yaml:"tls_cert_file,omitempty"`
}

// Validate checks the tracing settings.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("invalid sample rate: %f (must be between 0.0 and 1.0)", c.SampleRate)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	return nil
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider string `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=prometheus otlp"`
	// Port serves /metrics for the prometheus provider.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	// Endpoint is the collector address for the otlp provider.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

var metricsProviders = []string{"prometheus", "otlp"}

// Validate checks the metrics settings.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	provider := strings.ToLower(c.Provider)
	if !slices.Contains(metricsProviders, provider) {
		return fmt.Errorf("invalid metrics provider: %s (must be one of: %s)", c.Provider, strings.Join(metricsProviders, ", "))
	}
	if provider == "prometheus" && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}
	if provider == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the otlp metrics provider")
	}
	return nil
}
