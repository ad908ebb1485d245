// internal/bot/scan.go
package bot

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/capital"
	"github.com/rovshanmuradov/solana-sniper/internal/execution"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/types"
)

// Scorer proposes entry candidates.
type Scorer interface {
	ListCandidates(ctx context.Context) ([]types.Candidate, error)
}

// Router executes entries and exits. Implemented by execution.Router.
type Router interface {
	EnterPosition(ctx context.Context, c types.Candidate, sizeSOL float64) (position.Position, error)
	ExitPosition(ctx context.Context, asset string, reason position.ExitReason) (position.Position, error)
	SettlePending(ctx context.Context) int
	AvailableSOL(ctx context.Context) (float64, error)
	LastKnownSOL() float64
}

// ScanLoop periodically asks the scorer for candidates and enters the best
// ones while capital allows.
type ScanLoop struct {
	scorer    Scorer
	router    Router
	ledger    *position.Ledger
	allocator *capital.Allocator
	interval  time.Duration
	logger    *zap.Logger
}

// NewScanLoop creates a scan loop.
func NewScanLoop(scorer Scorer, router Router, ledger *position.Ledger, allocator *capital.Allocator, interval time.Duration, logger *zap.Logger) *ScanLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ScanLoop{
		scorer:    scorer,
		router:    router,
		ledger:    ledger,
		allocator: allocator,
		interval:  interval,
		logger:    logger.Named("scan"),
	}
}

// Run scans every interval until ctx is cancelled.
func (s *ScanLoop) Run(ctx context.Context) error {
	s.logger.Info("Scan loop started", zap.Duration("interval", s.interval))

	s.Cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scan loop stopped")
			return nil
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle runs one scan and returns the number of positions entered.
func (s *ScanLoop) Cycle(ctx context.Context) int {
	s.settlePending(ctx)

	slots := s.allocator.Slots(s.ledger.OpenCount())
	if slots == 0 {
		s.logger.Debug("No free slots, skipping scan")
		return 0
	}

	candidates, err := s.scorer.ListCandidates(ctx)
	if err != nil {
		s.logger.Warn("Candidate listing failed", zap.Error(err))
		return 0
	}
	picks := s.pick(candidates, slots)
	if len(picks) == 0 {
		return 0
	}
	s.logger.Debug("Scan selected candidates",
		zap.Int("candidates", len(candidates)),
		zap.Int("picked", len(picks)),
		zap.Int("slots", slots))

	entered := 0
	for _, c := range picks {
		if ctx.Err() != nil {
			break
		}
		ok, vetoed := s.enter(ctx, c)
		if vetoed {
			break
		}
		if ok {
			entered++
		}
	}
	return entered
}

// settlePending adopts earlier entries that landed after the router gave up
// on them, so they count against the slots below.
func (s *ScanLoop) settlePending(ctx context.Context) {
	unlock := s.ledger.LockEntries()
	defer unlock()
	if n := s.router.SettlePending(ctx); n > 0 {
		s.logger.Info("Late entries adopted", zap.Int("positions", n))
	}
}

// pick drops assets already held, ranks by score and keeps the top n.
func (s *ScanLoop) pick(candidates []types.Candidate, n int) []types.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	picks := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Asset == "" {
			continue
		}
		if _, dup := seen[c.Asset]; dup {
			continue
		}
		seen[c.Asset] = struct{}{}
		if s.ledger.HasOpen(c.Asset) {
			continue
		}
		picks = append(picks, c)
	}
	sort.SliceStable(picks, func(i, j int) bool { return picks[i].Score > picks[j].Score })
	if len(picks) > n {
		picks = picks[:n]
	}
	return picks
}

// enter sizes and executes one entry under the global entry lock so the
// allocator check and the entry are atomic. vetoed reports that no further
// entries should be attempted this cycle.
func (s *ScanLoop) enter(ctx context.Context, c types.Candidate) (ok, vetoed bool) {
	unlock := s.ledger.LockEntries()
	defer unlock()

	log := s.logger.With(zap.String("asset", c.Asset), zap.String("symbol", c.Symbol))

	available, err := s.router.AvailableSOL(ctx)
	if err != nil {
		log.Warn("Balance unavailable, ending scan cycle", zap.Error(err))
		return false, true
	}
	decision := s.allocator.SizeEntry(available, s.ledger.OpenCount())
	if !decision.Approved {
		log.Info("Entry vetoed",
			zap.String("reason", decision.Reason),
			zap.Float64("available_sol", available))
		return false, true
	}

	if _, err := s.router.EnterPosition(ctx, c, decision.Size); err != nil {
		if errors.Is(err, execution.ErrAlreadyOpen) {
			log.Debug("Asset already held")
			return false, false
		}
		if errors.Is(err, execution.ErrEntryPending) {
			log.Info("Earlier entry still in flight, skipping", zap.Error(err))
			return false, false
		}
		log.Warn("Entry attempt failed", zap.Float64("size_sol", decision.Size), zap.Error(err))
		return false, false
	}
	return true, false
}
