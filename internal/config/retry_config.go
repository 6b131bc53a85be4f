// Package config defines retry configuration.
package config

import (
	"time"
)

// RetryConfig holds retry configuration for upstream calls
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// BaseDelay is the wait before the first retry; each further retry doubles it
	BaseDelay time.Duration
	// MaxDelay caps a single backoff wait
	MaxDelay time.Duration
}

// GetRetryConfig returns retry configuration appropriate for the current environment.
// In test environments, uses much shorter delays for faster test execution.
func (c Config) GetRetryConfig() RetryConfig {
	if c.IsTest() {
		return RetryConfig{MaxRetries: c.RetryMaxRetries, BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	}
	return RetryConfig{
		MaxRetries: c.RetryMaxRetries,
		BaseDelay:  c.RetryBaseDelay,
		MaxDelay:   c.RetryMaxDelay,
	}
}
