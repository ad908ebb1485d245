// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// PriceSource values an open position. Implemented by execution.Router.
type PriceSource interface {
	Price(ctx context.Context, p position.Position) (float64, error)
}

// Exiter closes positions. Implemented by execution.Router.
type Exiter interface {
	ExitPosition(ctx context.Context, asset string, reason position.ExitReason) (position.Position, error)
}

// Config controls the monitor loop.
type Config struct {
	Interval time.Duration
	// PriceRate caps price requests per second across all positions.
	// Zero means unlimited.
	PriceRate    float64
	PriceBurst   int
	PriceTimeout time.Duration
}

// PositionMonitor re-prices open positions on a fixed interval and exits
// them when a rule fires.
type PositionMonitor struct {
	ledger  *position.Ledger
	prices  PriceSource
	exiter  Exiter
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewPositionMonitor creates a monitor. The loop starts with Run.
func NewPositionMonitor(ledger *position.Ledger, prices PriceSource, exiter Exiter, cfg Config, logger *zap.Logger) *PositionMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.PriceRate > 0 {
		limit = rate.Limit(cfg.PriceRate)
	}
	if cfg.PriceBurst <= 0 {
		cfg.PriceBurst = 1
	}
	return &PositionMonitor{
		ledger:  ledger,
		prices:  prices,
		exiter:  exiter,
		limiter: rate.NewLimiter(limit, cfg.PriceBurst),
		cfg:     cfg,
		logger:  logger.Named("monitor"),
		now:     time.Now,
	}
}

// Run evaluates open positions every interval until ctx is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) error {
	m.logger.Info("Position monitor started", zap.Duration("interval", m.cfg.Interval))

	m.Cycle(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Position monitor stopped")
			return nil
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle runs one pass over the open positions and returns how many were
// closed. A failure on one position never affects the others.
func (m *PositionMonitor) Cycle(ctx context.Context) int {
	open := m.ledger.List(position.FilterOpen)
	closed := 0
	for _, p := range open {
		if ctx.Err() != nil {
			break
		}
		if m.check(ctx, p) {
			closed++
		}
	}
	return closed
}

func (m *PositionMonitor) check(ctx context.Context, p position.Position) bool {
	log := m.logger.With(zap.String("asset", p.Asset), zap.String("position_id", p.ID))

	if err := m.limiter.Wait(ctx); err != nil {
		return false
	}
	priceCtx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	price, err := m.prices.Price(priceCtx, p)
	cancel()
	if err != nil {
		log.Warn("Price check failed, skipping", zap.Error(err))
		return false
	}

	now := m.now()
	updated, err := m.ledger.UpdateObservation(ctx, p.ID, price, now)
	if err != nil {
		log.Warn("Observation not recorded", zap.Error(err))
		return false
	}

	reason, ok := Evaluate(updated, price, now)
	if !ok {
		log.Debug("Position held",
			zap.Float64("price", price),
			zap.Float64("peak", updated.PeakPrice),
			zap.Float64("trailing_floor", TrailingFloor(updated)),
			zap.Float64("pnl_pct", updated.PnLPercent()))
		return false
	}

	log.Info("Exit rule triggered",
		zap.String("reason", string(reason)),
		zap.Float64("price", price),
		zap.Float64("entry", updated.EntryPrice),
		zap.Float64("peak", updated.PeakPrice))

	if _, err := m.exiter.ExitPosition(ctx, p.Asset, reason); err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		// still open; the next cycle re-evaluates
		log.Error("Exit failed", zap.String("reason", string(reason)), zap.Error(err))
		return false
	}
	return true
}
