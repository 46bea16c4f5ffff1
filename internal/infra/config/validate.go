package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers to
// see every issue at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateEmbedding(cfg, ve)
	validateSearch(cfg, ve)
	validateStore(cfg, ve)
	validateReindex(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validEmbeddingProviders = map[string]bool{
	"huggingface": true,
	"ollama":      true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	if !validEmbeddingProviders[e.Provider] {
		ve.Add("embedding.provider %q is invalid (want: huggingface, ollama)", e.Provider)
	}
	if e.Model == "" {
		ve.Add("embedding.model must not be empty")
	}
	if e.Dimensions <= 0 {
		ve.Add("embedding.dimensions must be > 0")
	}
	if e.Timeout <= 0 {
		ve.Add("embedding.timeout must be > 0")
	}
	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
	if e.Provider == "huggingface" && e.APIKey == "" {
		ve.Add("embedding.api_key is required for the huggingface provider (set via LEXMATCH_EMBEDDING_API_KEY)")
	}
	if e.RateLimit.Enabled {
		if e.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("embedding.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if e.RateLimit.Burst <= 0 {
			ve.Add("embedding.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	if s.Threshold < -1 || s.Threshold > 1 {
		ve.Add("search.threshold must be between -1 and 1 (got %v)", s.Threshold)
	}
	if s.Limit <= 0 {
		ve.Add("search.limit must be > 0")
	}
	if s.EmbedTimeout <= 0 {
		ve.Add("search.embed_timeout must be > 0")
	}
	if s.RetryAttempts < 0 {
		ve.Add("search.retry_attempts must be >= 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
}

func validateReindex(cfg *Config, ve *ValidationError) {
	if cfg.Reindex.Enabled && cfg.Reindex.Schedule == "" {
		ve.Add("reindex.schedule is required when reindex is enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Auth.Enabled && len(cfg.Gateway.Auth.Tokens) == 0 {
		ve.Add("gateway.auth.tokens must have at least one entry when auth is enabled")
	}
	for i, t := range cfg.Gateway.Auth.Tokens {
		if t.Token == "" {
			ve.Add("gateway.auth.tokens[%d] (%s): token must not be empty", i, t.Name)
		}
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
