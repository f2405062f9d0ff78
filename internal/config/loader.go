package config

import (
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mbhatt1/hive-sub000/internal/types"
)

// EnvPrefix prefixes environment overrides, e.g. HIVE_STORE_BACKEND.
const EnvPrefix = "HIVE"

// keyDelimiter separates nested keys. Image names used as map keys contain
// dots, so viper's default delimiter cannot be used.
const keyDelimiter = "::"

// envKeys are the settings that can be overridden from the environment even
// when the config file does not mention them.
var envKeys = []string{
	"core.home_dir",
	"core.parallel_limit",
	"logging.level",
	"logging.format",
	"logging.output",
	"tracing.enabled",
	"tracing.endpoint",
	"metrics.enabled",
	"metrics.port",
	"store.backend",
	"store.path",
	"runner.backend",
	"orchestrator.mission_timeout",
	"orchestrator.consensus_wait",
	"notifications.publish_failures",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ConfigLoader handles loading configuration from files.
type ConfigLoader interface {
	Load(path string) (*Config, error)
	LoadWithDefaults(path string) (*Config, error)
}

// viperConfigLoader implements ConfigLoader using Viper.
type viperConfigLoader struct {
	validator ConfigValidator
}

// NewConfigLoader creates a new ConfigLoader instance.
func NewConfigLoader(validator ConfigValidator) ConfigLoader {
	return &viperConfigLoader{
		validator: validator,
	}
}

// Load reads the YAML file at path over the defaults, applies HIVE_*
// environment overrides and ${VAR} interpolation, and validates the result.
func (l *viperConfigLoader) Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read config file", err)
	}
	return l.decode(v)
}

// LoadWithDefaults behaves like Load but falls back to the defaults, still
// subject to environment overrides, when path does not exist.
func (l *viperConfigLoader) LoadWithDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return l.decode(newViper())
	}
	return l.Load(path)
}

func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(strings.ReplaceAll(key, ".", keyDelimiter))
	}
	return v
}

func (l *viperConfigLoader) decode(v *viper.Viper) (*Config, error) {
	settings, _ := interpolateEnvVars(v.AllSettings()).(map[string]any)

	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to create decoder", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to unmarshal config", err)
	}

	if err := l.validator.Validate(cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "configuration validation failed", err)
	}
	return cfg, nil
}

// interpolateEnvVars recursively interpolates environment variables in the
// config map. Supports ${VAR_NAME} syntax.
func interpolateEnvVars(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = interpolateEnvVars(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, value := range v {
			result[i] = interpolateEnvVars(value)
		}
		return result
	case string:
		return interpolateString(v)
	default:
		return v
	}
}

// interpolateString replaces ${VAR_NAME} with the variable's value. Unset
// variables are left as written.
func interpolateString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}
