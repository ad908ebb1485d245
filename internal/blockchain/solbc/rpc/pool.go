// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"go.uber.org/zap"
)

// Pool selects endpoints of one service class (quote, swap, rpc) by spare
// rate capacity and health.
type Pool struct {
	name      string
	endpoints []*Endpoint
	cfg       PoolConfig
	logger    *zap.Logger
	publisher events.Publisher
	now       func() time.Time
	mu        sync.Mutex
}

// NewPool creates a pool over the configured endpoints.
func NewPool(name string, endpoints []EndpointConfig, cfg PoolConfig, publisher events.Publisher, logger *zap.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("pool %s: %w", name, ErrNoEndpoints)
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.BlacklistDuration <= 0 {
		cfg.BlacklistDuration = DefaultBlacklistDuration
	}
	if publisher == nil {
		publisher = events.Discard
	}

	p := &Pool{
		name:      name,
		cfg:       cfg,
		logger:    logger.Named("pool").With(zap.String("pool", name)),
		publisher: publisher,
		now:       time.Now,
	}
	for _, ec := range endpoints {
		p.endpoints = append(p.endpoints, newEndpoint(ec))
	}
	return p, nil
}

// Name returns the service class of the pool.
func (p *Pool) Name() string {
	return p.name
}

// Select picks the endpoint for the next request and counts the request
// against its window.
func (p *Pool) Select() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if !ep.blacklisted(now) {
			candidates = append(candidates, ep)
		}
	}

	if len(candidates) == 0 {
		// Everything is blacklisted: forgive all and carry on.
		p.logger.Warn("All endpoints blacklisted, clearing blacklist",
			zap.Int("endpoints", len(p.endpoints)))
		for _, ep := range p.endpoints {
			ep.blacklistedUntil = time.Time{}
			ep.consecutiveFailures = 0
		}
		candidates = append(candidates, p.endpoints...)
	}

	var chosen *Endpoint
	for _, ep := range candidates {
		ep.rollWindow(now)
		if !ep.hasCapacity() {
			continue
		}
		if chosen == nil || preferred(ep, chosen) {
			chosen = ep
		}
	}

	// No spare capacity anywhere: least recently used.
	if chosen == nil {
		for _, ep := range candidates {
			if chosen == nil || ep.lastCall.Before(chosen.lastCall) {
				chosen = ep
			}
		}
	}

	chosen.requestCount++
	chosen.lastCall = now
	return chosen, nil
}

func preferred(a, b *Endpoint) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.consecutiveFailures < b.consecutiveFailures
}

// RecordSuccess resets the failure streak of ep.
func (p *Pool) RecordSuccess(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.consecutiveFailures = 0
	ep.successes++
}

// RecordFailure counts a retryable failure and blacklists ep once the
// streak reaches the threshold.
func (p *Pool) RecordFailure(ep *Endpoint) {
	p.mu.Lock()
	now := p.now()
	ep.consecutiveFailures++
	ep.failures++

	var ev *events.EndpointBlacklistedEvent
	if ep.consecutiveFailures >= p.cfg.FailureThreshold && !ep.blacklisted(now) {
		ep.blacklistedUntil = now.Add(p.cfg.BlacklistDuration)
		ev = &events.EndpointBlacklistedEvent{
			BaseEvent: events.NewBase(events.EndpointBlacklisted, now),
			Pool:      p.name,
			URL:       ep.URL,
			Failures:  ep.consecutiveFailures,
			Until:     ep.blacklistedUntil,
		}
	}
	p.mu.Unlock()

	if ev != nil {
		p.logger.Warn("Endpoint blacklisted",
			zap.String("url", ev.URL),
			zap.Int("failures", ev.Failures),
			zap.Time("until", ev.Until))
		_ = p.publisher.Publish(ev)
	}
}

// Status returns a snapshot of every endpoint.
func (p *Pool) Status() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.status(p.name, now))
	}
	return out
}
