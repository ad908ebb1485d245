// internal/blockchain/solbc/rpc/endpoint.go
package rpc

import (
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Endpoint is one remote service URL with its rate-window and health
// bookkeeping. Mutable fields are guarded by the owning Pool.
type Endpoint struct {
	URL            string
	Priority       int
	WindowCapacity int
	WindowDuration time.Duration

	requestCount        int
	windowStart         time.Time
	consecutiveFailures int
	blacklistedUntil    time.Time
	lastCall            time.Time
	successes           uint64
	failures            uint64

	rpcOnce sync.Once
	rpc     *solanarpc.Client
}

func newEndpoint(cfg EndpointConfig) *Endpoint {
	ep := &Endpoint{
		URL:            cfg.URL,
		Priority:       cfg.Priority,
		WindowCapacity: cfg.WindowCapacity,
		WindowDuration: cfg.WindowDuration,
	}
	if ep.WindowDuration <= 0 {
		ep.WindowDuration = DefaultWindowDuration
	}
	return ep
}

// RPC returns a Solana JSON-RPC client bound to this endpoint.
func (e *Endpoint) RPC() *solanarpc.Client {
	e.rpcOnce.Do(func() {
		e.rpc = solanarpc.New(e.URL)
	})
	return e.rpc
}

func (e *Endpoint) blacklisted(now time.Time) bool {
	return e.blacklistedUntil.After(now)
}

func (e *Endpoint) hasCapacity() bool {
	return e.WindowCapacity <= 0 || e.requestCount < e.WindowCapacity
}

// rollWindow resets the request counter once the window has elapsed.
func (e *Endpoint) rollWindow(now time.Time) {
	if e.windowStart.IsZero() || now.Sub(e.windowStart) > e.WindowDuration {
		e.requestCount = 0
		e.windowStart = now
	}
}

func (e *Endpoint) status(pool string, now time.Time) EndpointStatus {
	return EndpointStatus{
		Pool:                pool,
		URL:                 e.URL,
		Priority:            e.Priority,
		RequestCount:        e.requestCount,
		WindowCapacity:      e.WindowCapacity,
		ConsecutiveFailures: e.consecutiveFailures,
		Blacklisted:         e.blacklisted(now),
		BlacklistedUntil:    e.blacklistedUntil,
		LastCall:            e.lastCall,
		Successes:           e.successes,
		Failures:            e.failures,
	}
}
