package config

import (
	"encoding/json"
)

// ConfigSanitizer sanitizes sensitive configuration data
type ConfigSanitizer interface {
	// Sanitize removes or redacts sensitive fields
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer
type DefaultConfigSanitizer struct {
	redactionValue string // Value to use for redacted fields
}

// NewDefaultConfigSanitizer creates a new DefaultConfigSanitizer
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{
		redactionValue: "***REDACTED***",
	}
}

// NewConfigSanitizer creates a ConfigSanitizer with custom redaction value
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{
		redactionValue: redactionValue,
	}
}

// Sanitize removes or redacts sensitive fields from configuration
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	// Deep copy config to avoid mutating original
	sanitized := s.deepCopy(cfg)

	// Redact database password
	sanitized.Database.Password = s.redactionValue

	// Redact Redis password
	sanitized.Redis.Password = s.redactionValue

	// Redact queue worker tokens
	sanitized.Queue.ValidationToken = s.redactionValue
	sanitized.Queue.GenerationToken = s.redactionValue
	sanitized.Queue.AdminToken = s.redactionValue

	// Redact the database URL whenever it is set (it may embed credentials)
	sanitized.Database.URL = s.sanitizeURL(sanitized.Database.URL)

	return sanitized
}

// deepCopy creates a deep copy of Config using JSON serialization
func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	// Use JSON serialization for deep copy
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		// Fallback: return original (should not happen with valid config)
		return cfg
	}

	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		// Fallback: return original
		return cfg
	}

	return &configCopy
}

// sanitizeURL replaces any non-empty database URL with the redaction value
func (s *DefaultConfigSanitizer) sanitizeURL(url string) string {
	if url == "" {
		return url
	}

	// The URL is not parsed: the whole value is redacted, whether or not it
	// carries credentials, rather than only its password part.
	// In practice, Database.URL is usually empty if using separate fields
	if len(url) > 0 {
		return s.redactionValue
	}

	return url
}
