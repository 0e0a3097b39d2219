package config

import (
	"fmt"
	"time"
)

// DecisionConfig tunes the decision engine and its cache.
type DecisionConfig struct {
	// CacheTTL bounds how stale a cached rule set may be when no
	// invalidation arrives.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"60s" validate:"gt=0"`

	// WhitelistCapacity caps the number of per-rule whitelist sets kept in memory.
	WhitelistCapacity int `envconfig:"WHITELIST_CAPACITY" default:"10000" validate:"min=1"`

	// StoreTimeout bounds a single rule store fetch on cache miss.
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"500ms" validate:"gt=0"`

	// RequestTimeout is the deadline applied to each decision request.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"1s" validate:"gt=0"`

	// FailOpen makes the proxy sub-request answer "stable" instead of an
	// error when the rule store is unreachable.
	FailOpen bool `envconfig:"FAIL_OPEN" default:"false"`
}

// Validate checks cross-field constraints.
func (c *DecisionConfig) Validate() error {
	if c.StoreTimeout > c.RequestTimeout {
		return fmt.Errorf("decision store_timeout (%s) cannot exceed request_timeout (%s)", c.StoreTimeout, c.RequestTimeout)
	}
	return nil
}
