// internal/bot/engine.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-sniper/internal/capital"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrInvalidAsset   = errors.New("asset must not be empty")
	ErrInvalidCommand = errors.New("invalid command")
)

// Loop is a periodic driver stopped by cancelling its context.
type Loop interface {
	Run(ctx context.Context) error
}

// Status is the engine summary exposed to operators.
type Status struct {
	Active              bool    `json:"active"`
	OpenPositionCount   int     `json:"open_position_count"`
	ClosedPositionCount int     `json:"closed_position_count"`
	AvailableCapital    float64 `json:"available_capital"`
	DeployedCapital     float64 `json:"deployed_capital"`
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Ledger    *position.Ledger
	Router    Router
	Allocator *capital.Allocator
	Scorer    Scorer
	Monitor   Loop
	Publisher events.Publisher
}

// Config controls the engine.
type Config struct {
	ScanInterval time.Duration
}

// Engine runs the scan and monitor loops and exposes the control surface.
type Engine struct {
	ledger    *position.Ledger
	router    Router
	scan      *ScanLoop
	monitor   Loop
	publisher events.Publisher
	logger    *zap.Logger

	// mu serializes Start and Stop; running is readable without it.
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan error
}

// NewEngine wires an engine. Nothing runs until Start.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case deps.Router == nil:
		return nil, errors.New("engine: router is required")
	case deps.Allocator == nil:
		return nil, errors.New("engine: allocator is required")
	case deps.Scorer == nil:
		return nil, errors.New("engine: scorer is required")
	case deps.Monitor == nil:
		return nil, errors.New("engine: monitor is required")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Discard
	}
	logger = logger.Named("engine")
	return &Engine{
		ledger:    deps.Ledger,
		router:    deps.Router,
		scan:      NewScanLoop(deps.Scorer, deps.Router, deps.Ledger, deps.Allocator, cfg.ScanInterval, logger),
		monitor:   deps.Monitor,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Start launches the scan and monitor loops. They keep running after ctx
// ends and stop only through Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return ErrAlreadyRunning
	}

	if _, err := e.router.AvailableSOL(ctx); err != nil {
		e.logger.Warn("Initial balance read failed", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return e.scan.Run(gctx) })
	g.Go(func() error { return e.monitor.Run(gctx) })

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		if err != nil {
			e.logger.Error("Engine loop failed", zap.Error(err))
		}
		done <- err
		close(done)
	}()

	e.running.Store(true)
	e.cancel = cancel
	e.done = done

	open := e.ledger.OpenCount()
	e.logger.Info("Engine started", zap.Int("open_positions", open))
	e.emit(&events.EngineStateEvent{
		BaseEvent:     events.NewBase(events.EngineStarted, time.Now()),
		OpenPositions: open,
	})
	return nil
}

// Stop cancels both loops and waits for them to return. In-flight
// submissions finish confirming on their own budget. Stopping a stopped
// engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return nil
	}
	e.cancel()

	var loopErr error
	select {
	case loopErr = <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}

	e.running.Store(false)
	e.cancel = nil
	e.done = nil

	open := e.ledger.OpenCount()
	e.logger.Info("Engine stopped", zap.Int("open_positions", open))
	e.emit(&events.EngineStateEvent{
		BaseEvent:     events.NewBase(events.EngineStopped, time.Now()),
		OpenPositions: open,
	})
	return loopErr
}

// Close stops the engine with a fixed budget. It satisfies io.Closer for
// the shutdown handler.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return e.Stop(ctx)
}

// ForceExit closes the open position on asset through the normal exit
// path with reason MANUAL. It works whether or not the loops are running.
func (e *Engine) ForceExit(ctx context.Context, asset string) (position.Position, error) {
	if asset == "" {
		return position.Position{}, ErrInvalidAsset
	}
	e.logger.Info("Manual exit requested", zap.String("asset", asset))
	return e.router.ExitPosition(ctx, asset, position.ReasonManual)
}

// Status returns the current summary from the ledger snapshot and the
// last balance read.
func (e *Engine) Status() Status {
	return Status{
		Active:              e.running.Load(),
		OpenPositionCount:   e.ledger.OpenCount(),
		ClosedPositionCount: e.ledger.ClosedCount(),
		AvailableCapital:    e.router.LastKnownSOL(),
		DeployedCapital:     e.ledger.Deployed(),
	}
}

// ListPositions returns positions matching filter, oldest entry first.
func (e *Engine) ListPositions(filter position.Filter) []position.Position {
	return e.ledger.List(filter)
}

func (e *Engine) emit(ev events.Event) {
	if err := e.publisher.Publish(ev); err != nil {
		e.logger.Debug("Event not published", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
