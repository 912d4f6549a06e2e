package config

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "configuration validation failed: " + strings.Join(e.Problems, "; ")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	if c == nil {
		return nil // nil config is valid, will use defaults
	}

	var errs []string

	if s := c.Server; s != nil {
		if s.Name != nil && strings.TrimSpace(*s.Name) == "" {
			errs = append(errs, "server.name cannot be empty")
		}
		if s.Transport != nil && *s.Transport != TransportStdio && *s.Transport != TransportHTTP {
			errs = append(errs, fmt.Sprintf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, *s.Transport))
		}
		if s.HTTPAddr != nil && *s.HTTPAddr == "" {
			errs = append(errs, "server.http_addr cannot be empty")
		}
	}

	if e := c.Exec; e != nil {
		if e.DefaultTimeoutSeconds != nil && !positiveFinite(*e.DefaultTimeoutSeconds) {
			errs = append(errs, "exec.default_timeout_seconds must be a positive number")
		}
		if e.MaxTimeoutSeconds != nil && !positiveFinite(*e.MaxTimeoutSeconds) {
			errs = append(errs, "exec.max_timeout_seconds must be a positive number")
		}
		if e.DefaultTimeoutSeconds != nil && e.MaxTimeoutSeconds != nil &&
			*e.DefaultTimeoutSeconds > *e.MaxTimeoutSeconds {
			errs = append(errs, "exec.default_timeout_seconds cannot exceed exec.max_timeout_seconds")
		}
		if e.GracePeriodMs != nil && *e.GracePeriodMs < 0 {
			errs = append(errs, "exec.grace_period_ms cannot be negative")
		}
		if e.MaxOutputBytes != nil && *e.MaxOutputBytes <= 0 {
			errs = append(errs, "exec.max_output_bytes must be positive")
		}
	}

	if s := c.Shell; s != nil {
		if s.FallbackPath != nil && strings.TrimSpace(*s.FallbackPath) == "" {
			errs = append(errs, "shell.fallback_path cannot be empty")
		}
		for i, p := range s.PreferredPaths {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Sprintf("shell.preferred_paths[%d] cannot be empty", i))
			}
		}
		if s.CacheTTLSeconds != nil && (*s.CacheTTLSeconds < 0 || math.IsNaN(*s.CacheTTLSeconds) || math.IsInf(*s.CacheTTLSeconds, 0)) {
			errs = append(errs, "shell.cache_ttl_seconds must be zero or a positive number")
		}
	}

	if l := c.Logging; l != nil {
		if l.Level != nil {
			switch strings.ToLower(*l.Level) {
			case "debug", "info", "warn", "error":
			default:
				errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", *l.Level))
			}
		}
		if l.Format != nil && *l.Format != "json" && *l.Format != "console" {
			errs = append(errs, fmt.Sprintf("logging.format %q is not one of json, console", *l.Format))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
