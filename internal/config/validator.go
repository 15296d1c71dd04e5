package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validator validates proxy client configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors, or nil.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateBaseURL(cfg.BaseURL)
	v.validateRegions(cfg.Regions)

	if cfg.GatewaysPerRegion < 1 {
		v.addError("gatewaysPerRegion", "must be at least 1")
	}

	v.validateProvisioning(&cfg.Provisioning)
	v.validateTransport(&cfg.Transport)

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateBaseURL(raw string) {
	if raw == "" {
		v.addError("baseURL", "baseURL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError("baseURL", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError("baseURL", "scheme must be http or https")
	}
	if u.Host == "" {
		v.addError("baseURL", "host is required")
	}
}

func (v *Validator) validateRegions(spec RegionSpec) {
	if spec.IsZero() {
		v.addError("regions", "at least one region or a region group is required")
		return
	}
	seen := make(map[string]bool, len(spec.Names))
	for i, name := range spec.Names {
		path := fmt.Sprintf("regions[%d]", i)
		switch {
		case strings.TrimSpace(name) == "":
			v.addError(path, "region name is required")
		case seen[name]:
			v.addError(path, fmt.Sprintf("duplicate region: %s", name))
		default:
			seen[name] = true
		}
	}
}

func (v *Validator) validateProvisioning(p *ProvisioningConfig) {
	if p.Timeout < 0 {
		v.addError("provisioning.timeout", "must not be negative")
	}
	if p.TeardownTimeout < 0 {
		v.addError("provisioning.teardownTimeout", "must not be negative")
	}
	if p.DrainTimeout < 0 {
		v.addError("provisioning.drainTimeout", "must not be negative")
	}
	if p.MaxConcurrency < 0 {
		v.addError("provisioning.maxConcurrency", "must not be negative")
	}
	if p.Retry.MaxRetries < 0 {
		v.addError("provisioning.retry.maxRetries", "must not be negative")
	}
	if p.Retry.JitterFactor < 0 || p.Retry.JitterFactor > 1 {
		v.addError("provisioning.retry.jitterFactor", "must be between 0 and 1")
	}
	if p.Retry.MaxBackoff > 0 && p.Retry.InitialBackoff > p.Retry.MaxBackoff {
		v.addError("provisioning.retry.initialBackoff", "must not exceed maxBackoff")
	}
	if p.RateLimit.RequestsPerSecond < 0 {
		v.addError("provisioning.rateLimit.requestsPerSecond", "must not be negative")
	}
	if p.RateLimit.Burst < 0 {
		v.addError("provisioning.rateLimit.burst", "must not be negative")
	}
	if p.CircuitBreaker.Enabled && p.CircuitBreaker.Threshold < 1 {
		v.addError("provisioning.circuitBreaker.threshold", "must be at least 1")
	}
}

func (v *Validator) validateTransport(t *TransportConfig) {
	if t.Timeout < 0 {
		v.addError("transport.timeout", "must not be negative")
	}
	if t.MaxIdleConns < 0 || t.MaxIdleConnsPerHost < 0 || t.MaxConnsPerHost < 0 {
		v.addError("transport", "connection limits must not be negative")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
