// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

var t0 = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

func openPosition(t *testing.T, ledger *position.Ledger, asset string) position.Position {
	t.Helper()
	p, created, err := ledger.Open(context.Background(), position.Fill{
		Asset:   asset,
		Price:   1.00,
		Size:    100,
		SizeRaw: 100_000_000,
		Value:   100,
		TxRef:   "entry-" + asset,
		Time:    t0,
	}, position.Rules{
		ProfitTargetPct: 0.25,
		StopLossPct:     0.15,
		TrailingStopPct: 0.10,
		MaxHold:         time.Hour,
	})
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func TestEvaluate(t *testing.T) {
	base := position.Position{
		State:           position.StateOpen,
		EntryPrice:      1.00,
		PeakPrice:       1.00,
		TargetPrice:     1.25,
		StopPrice:       0.85,
		TrailingStopPct: 0.10,
		MaxHold:         time.Hour,
		EntryTime:       t0,
	}
	late := t0.Add(2 * time.Hour)

	tests := []struct {
		name   string
		peak   float64
		price  float64
		now    time.Time
		want   position.ExitReason
		exited bool
	}{
		{"hold at entry", 1.00, 1.00, t0, "", false},
		{"profit target", 1.00, 1.25, t0, position.ReasonProfitTarget, true},
		{"profit target beats time limit", 1.00, 1.30, late, position.ReasonProfitTarget, true},
		{"stop loss", 1.00, 0.80, t0, position.ReasonStopLoss, true},
		{"stop loss beats time limit", 1.00, 0.80, late, position.ReasonStopLoss, true},
		{"trailing above entry", 1.20, 1.07, t0, position.ReasonTrailingStop, true},
		{"trailing beats time limit", 1.20, 1.07, late, position.ReasonTrailingStop, true},
		{"retrace within trailing distance", 1.10, 1.05, t0, "", false},
		{"trailing never below entry", 1.10, 0.98, t0, "", false},
		{"trailing never at entry", 1.20, 1.00, t0, "", false},
		{"time limit", 1.00, 1.01, late, position.ReasonTimeLimit, true},
		{"time limit at exact bound", 1.00, 1.01, t0.Add(time.Hour), position.ReasonTimeLimit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			p.PeakPrice = tt.peak
			reason, ok := Evaluate(p, tt.price, tt.now)
			assert.Equal(t, tt.exited, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestEvaluate_TerminalNeverFires(t *testing.T) {
	p := position.Position{State: position.StateClosedLoss, TargetPrice: 1, StopPrice: 0.5}
	_, ok := Evaluate(p, 2, t0)
	assert.False(t, ok)
}

func TestEvaluate_TrailingNeverAtOrBelowEntry(t *testing.T) {
	p := position.Position{
		State:           position.StateOpen,
		EntryPrice:      1.00,
		StopPrice:       0.10,
		TargetPrice:     100,
		TrailingStopPct: 0.01,
	}
	for peak := 1.0; peak <= 5.0; peak += 0.25 {
		p.PeakPrice = peak
		for price := 0.2; price <= 1.0; price += 0.05 {
			reason, ok := Evaluate(p, price, t0)
			if ok {
				assert.NotEqual(t, position.ReasonTrailingStop, reason, "peak=%v price=%v", peak, price)
			}
		}
	}
}

type scriptedPrices struct {
	mu     sync.Mutex
	paths  map[string][]float64
	step   map[string]int
	errFor map[string]error
}

func newScriptedPrices() *scriptedPrices {
	return &scriptedPrices{
		paths:  make(map[string][]float64),
		step:   make(map[string]int),
		errFor: make(map[string]error),
	}
}

func (s *scriptedPrices) Price(_ context.Context, p position.Position) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[p.Asset]; err != nil {
		return 0, err
	}
	path := s.paths[p.Asset]
	i := s.step[p.Asset]
	if i >= len(path) {
		i = len(path) - 1
	}
	s.step[p.Asset]++
	return path[i], nil
}

type exitCall struct {
	asset  string
	reason position.ExitReason
}

type ledgerExiter struct {
	mu     sync.Mutex
	ledger *position.Ledger
	fail   error
	calls  []exitCall
}

func (e *ledgerExiter) ExitPosition(ctx context.Context, asset string, reason position.ExitReason) (position.Position, error) {
	e.mu.Lock()
	e.calls = append(e.calls, exitCall{asset, reason})
	fail := e.fail
	e.mu.Unlock()

	p, ok := e.ledger.OpenFor(asset)
	if !ok {
		return position.Position{}, errors.New("not open")
	}
	if fail != nil {
		return p, fail
	}
	return e.ledger.Close(ctx, p.ID, position.Fill{
		Asset: asset,
		Price: p.CurrentPrice,
		Value: p.CurrentPrice * p.Size,
		TxRef: "exit-" + asset,
		Time:  t0,
	}, reason)
}

func newMonitor(t *testing.T) (*PositionMonitor, *position.Ledger, *scriptedPrices, *ledgerExiter) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := position.NewLedger(nil, logger)
	prices := newScriptedPrices()
	exiter := &ledgerExiter{ledger: ledger}
	m := NewPositionMonitor(ledger, prices, exiter, Config{Interval: time.Millisecond}, logger)
	m.now = func() time.Time { return t0.Add(time.Minute) }
	return m, ledger, prices, exiter
}

func TestCycle_TrailingPath(t *testing.T) {
	m, ledger, prices, exiter := newMonitor(t)
	p := openPosition(t, ledger, "MINT")
	prices.paths["MINT"] = []float64{1.10, 1.05, 0.98, 1.20, 1.07}

	// 1.10 raises the peak, 1.05 stays above the 0.99 floor
	assert.Zero(t, m.Cycle(context.Background()))
	assert.Zero(t, m.Cycle(context.Background()))
	got, _ := ledger.Get(p.ID)
	assert.InDelta(t, 1.10, got.PeakPrice, 1e-12)
	assert.InDelta(t, 1.05, got.CurrentPrice, 1e-12)

	// 0.98 is under the floor but below entry, so the trailing stop holds
	assert.Zero(t, m.Cycle(context.Background()))
	assert.Empty(t, exiter.calls)

	// new peak 1.20 then 1.07 breaches the 1.08 floor while in profit
	assert.Zero(t, m.Cycle(context.Background()))
	assert.Equal(t, 1, m.Cycle(context.Background()))

	require.Len(t, exiter.calls, 1)
	assert.Equal(t, position.ReasonTrailingStop, exiter.calls[0].reason)
	got, _ = ledger.Get(p.ID)
	assert.Equal(t, position.StateClosedProfit, got.State)
	assert.InDelta(t, 1.07, got.ExitPrice, 1e-12)
}

func TestCycle_StopLoss(t *testing.T) {
	m, ledger, prices, exiter := newMonitor(t)
	openPosition(t, ledger, "MINT")
	prices.paths["MINT"] = []float64{0.80}

	assert.Equal(t, 1, m.Cycle(context.Background()))
	require.Len(t, exiter.calls, 1)
	assert.Equal(t, position.ReasonStopLoss, exiter.calls[0].reason)
	assert.Zero(t, ledger.OpenCount())
}

func TestCycle_PriceFailureIsolated(t *testing.T) {
	m, ledger, prices, exiter := newMonitor(t)
	bad := openPosition(t, ledger, "BAD")
	openPosition(t, ledger, "GOOD")
	prices.errFor["BAD"] = errors.New("quote unavailable")
	prices.paths["GOOD"] = []float64{1.30}

	assert.Equal(t, 1, m.Cycle(context.Background()))
	require.Len(t, exiter.calls, 1)
	assert.Equal(t, "GOOD", exiter.calls[0].asset)

	got, _ := ledger.Get(bad.ID)
	assert.Equal(t, position.StateOpen, got.State)
	assert.InDelta(t, 1.00, got.CurrentPrice, 1e-12)
}

func TestCycle_FailedExitRetriedNextCycle(t *testing.T) {
	m, ledger, prices, exiter := newMonitor(t)
	openPosition(t, ledger, "MINT")
	prices.paths["MINT"] = []float64{1.30}
	exiter.fail = errors.New("transaction not confirmed")

	assert.Zero(t, m.Cycle(context.Background()))
	assert.Equal(t, 1, ledger.OpenCount())

	exiter.fail = nil
	assert.Equal(t, 1, m.Cycle(context.Background()))
	assert.Len(t, exiter.calls, 2)
	assert.Zero(t, ledger.OpenCount())
}

func TestCycle_TimeLimit(t *testing.T) {
	m, ledger, prices, exiter := newMonitor(t)
	openPosition(t, ledger, "MINT")
	prices.paths["MINT"] = []float64{1.01}
	m.now = func() time.Time { return t0.Add(61 * time.Minute) }

	assert.Equal(t, 1, m.Cycle(context.Background()))
	require.Len(t, exiter.calls, 1)
	assert.Equal(t, position.ReasonTimeLimit, exiter.calls[0].reason)
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, ledger, prices, _ := newMonitor(t)
	openPosition(t, ledger, "MINT")
	prices.paths["MINT"] = []float64{1.01}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, 1, ledger.OpenCount())
}
