// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"time"
)

const (
	DefaultFailureThreshold  = 3
	DefaultBlacklistDuration = 60 * time.Second
	DefaultWindowDuration    = time.Second
	DefaultWindowCapacity    = 10

	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// EndpointConfig is the static description of one endpoint.
type EndpointConfig struct {
	URL            string
	Priority       int
	WindowCapacity int
	WindowDuration time.Duration
}

// PoolConfig controls blacklisting for one pool.
type PoolConfig struct {
	FailureThreshold  int
	BlacklistDuration time.Duration
}

// DefaultPoolConfig returns the standard thresholds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		FailureThreshold:  DefaultFailureThreshold,
		BlacklistDuration: DefaultBlacklistDuration,
	}
}

// RetryConfig controls ResilientClient backoff.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: 10 * time.Second,
	}
}

// EndpointStatus is a read-only view of an endpoint for status reporting.
type EndpointStatus struct {
	Pool                string    `json:"pool"`
	URL                 string    `json:"url"`
	Priority            int       `json:"priority"`
	RequestCount        int       `json:"request_count"`
	WindowCapacity      int       `json:"window_capacity"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Blacklisted         bool      `json:"blacklisted"`
	BlacklistedUntil    time.Time `json:"blacklisted_until,omitempty"`
	LastCall            time.Time `json:"last_call,omitempty"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
}
