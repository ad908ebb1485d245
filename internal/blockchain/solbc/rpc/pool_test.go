// internal/blockchain/solbc/rpc/pool_test.go
package rpc

import (
	"testing"
	"time"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, capacity int, urls ...string) (*Pool, *fakeClock, *events.Recorder) {
	t.Helper()
	var cfgs []EndpointConfig
	for _, u := range urls {
		cfgs = append(cfgs, EndpointConfig{URL: u, WindowCapacity: capacity, WindowDuration: time.Second})
	}
	rec := events.NewRecorder(0)
	p, err := NewPool("quote", cfgs, DefaultPoolConfig(), rec, zaptest.NewLogger(t))
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p.now = clock.now
	return p, clock, rec
}

func TestNewPool_NoEndpoints(t *testing.T) {
	_, err := NewPool("rpc", nil, DefaultPoolConfig(), nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestPool_SpareCapacityThenLRU(t *testing.T) {
	p, clock, _ := newTestPool(t, 1, "https://a", "https://b")

	first, err := p.Select()
	require.NoError(t, err)
	clock.advance(time.Millisecond)
	second, err := p.Select()
	require.NoError(t, err)
	clock.advance(time.Millisecond)
	third, err := p.Select()
	require.NoError(t, err)

	assert.NotEqual(t, first.URL, second.URL, "two requests go to distinct endpoints")
	assert.Equal(t, first.URL, third.URL, "third request falls back to least recently used")
}

func TestPool_WindowResets(t *testing.T) {
	p, clock, _ := newTestPool(t, 1, "https://a", "https://b")

	a, _ := p.Select()
	clock.advance(10 * time.Millisecond)
	b, _ := p.Select()
	require.NotEqual(t, a.URL, b.URL)

	clock.advance(2 * time.Second)
	again, _ := p.Select()
	assert.Equal(t, "https://a", again.URL)
	assert.Equal(t, 1, again.requestCount)
}

func TestPool_PriorityOrder(t *testing.T) {
	rec := events.NewRecorder(0)
	p, err := NewPool("swap", []EndpointConfig{
		{URL: "https://backup", Priority: 2, WindowCapacity: 5},
		{URL: "https://primary", Priority: 1, WindowCapacity: 5},
	}, DefaultPoolConfig(), rec, zaptest.NewLogger(t))
	require.NoError(t, err)

	ep, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, "https://primary", ep.URL)
}

func TestPool_BlacklistAfterThreshold(t *testing.T) {
	p, clock, rec := newTestPool(t, 0, "https://a", "https://b", "https://c")

	a := p.endpoints[0]
	for i := 0; i < DefaultFailureThreshold; i++ {
		p.RecordFailure(a)
	}

	st := p.Status()
	assert.True(t, st[0].Blacklisted)
	require.Len(t, rec.OfType(events.EndpointBlacklisted), 1)
	ev := rec.OfType(events.EndpointBlacklisted)[0].(*events.EndpointBlacklistedEvent)
	assert.Equal(t, "https://a", ev.URL)
	assert.Equal(t, clock.t.Add(DefaultBlacklistDuration), ev.Until)

	for i := 0; i < 5; i++ {
		ep, err := p.Select()
		require.NoError(t, err)
		assert.NotEqual(t, "https://a", ep.URL)
	}

	clock.advance(DefaultBlacklistDuration + time.Second)
	assert.False(t, p.Status()[0].Blacklisted)
}

func TestPool_SuccessResetsStreak(t *testing.T) {
	p, _, rec := newTestPool(t, 0, "https://a")
	a := p.endpoints[0]

	p.RecordFailure(a)
	p.RecordFailure(a)
	p.RecordSuccess(a)
	p.RecordFailure(a)

	assert.False(t, p.Status()[0].Blacklisted)
	assert.Equal(t, 1, p.Status()[0].ConsecutiveFailures)
	assert.Empty(t, rec.Events())
}

func TestPool_FallbackWhenOthersBlacklisted(t *testing.T) {
	p, _, _ := newTestPool(t, 1, "https://a", "https://b", "https://c")

	for _, ep := range p.endpoints[:2] {
		for i := 0; i < DefaultFailureThreshold; i++ {
			p.RecordFailure(ep)
		}
	}

	// Remaining endpoint is used even past its window capacity.
	for i := 0; i < 3; i++ {
		ep, err := p.Select()
		require.NoError(t, err)
		assert.Equal(t, "https://c", ep.URL)
	}
}

func TestPool_AllBlacklistedClears(t *testing.T) {
	p, _, _ := newTestPool(t, 0, "https://a", "https://b")

	for _, ep := range p.endpoints {
		for i := 0; i < DefaultFailureThreshold; i++ {
			p.RecordFailure(ep)
		}
	}

	ep, err := p.Select()
	require.NoError(t, err)
	assert.NotNil(t, ep)
	for _, st := range p.Status() {
		assert.False(t, st.Blacklisted)
	}
}
