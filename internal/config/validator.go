package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ConfigValidator validates configuration values.
type ConfigValidator interface {
	Validate(cfg *Config) error
}

// validatorImpl implements ConfigValidator using go-playground/validator.
type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a new ConfigValidator instance.
func NewValidator() ConfigValidator {
	return &validatorImpl{
		validate: validator.New(),
	}
}

// Validate validates the configuration and returns detailed error messages.
func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var problems []string
	if err := v.validate.Struct(cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, e := range validationErrs {
			problems = append(problems, formatValidationError(e))
		}
	}

	if err := cfg.Tracing.Validate(); err != nil {
		problems = append(problems, "tracing: "+err.Error())
	}
	if err := cfg.Metrics.Validate(); err != nil {
		problems = append(problems, "metrics: "+err.Error())
	}
	if cfg.Store.Backend != "memory" && cfg.Store.Path == "" {
		problems = append(problems, fmt.Sprintf("store.path is required for the %s backend", cfg.Store.Backend))
	}
	if cfg.Orchestrator.ConsensusPolling && cfg.Orchestrator.ConsensusPollInterval <= 0 {
		problems = append(problems, "orchestrator.consensus_poll_interval must be positive when consensus_polling is enabled")
	}
	for name, def := range cfg.Agents {
		if def.Image == "" && len(def.Command) == 0 {
			problems = append(problems, fmt.Sprintf("agents.%s requires an image or a command", name))
		}
	}
	for name, def := range cfg.Tools {
		if def.Image == "" && len(def.Command) == 0 {
			problems = append(problems, fmt.Sprintf("tools.%s requires an image or a command", name))
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, s := range cfg.Schedules {
		if s.Cron == "" {
			continue
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("schedules[%d].cron is invalid: %v", i, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// formatValidationError formats a single validation error with field path and details.
func formatValidationError(e validator.FieldError) string {
	fieldPath := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldPath)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", fieldPath, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", fieldPath, e.Tag(), e.Value())
	}
}

// formatFieldPath converts validator namespace to a more readable field path.
// Example: "Config.Orchestrator.ToolConcurrency" -> "orchestrator.tool_concurrency"
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}

	result := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		result = append(result, camelToSnake(part))
	}
	return strings.Join(result, ".")
}

// camelToSnake converts CamelCase to snake_case. Runs of capitals such as
// "MB" stay together.
func camelToSnake(s string) string {
	var result strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if i > 0 && upper {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := runes[i-1] >= 'A' && runes[i-1] <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				result.WriteRune('_')
			}
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
