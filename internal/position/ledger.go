// internal/position/ledger.go
package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists positions. The ledger stays authoritative in memory;
// store failures are logged and do not fail a transition.
type Store interface {
	Save(ctx context.Context, p Position) error
	LoadOpen(ctx context.Context) ([]Position, error)
}

// snapshot is an immutable view published after every mutation. Only the
// open set is copied; closed shares the ledger's append-only history, capped
// so later appends never show through.
type snapshot struct {
	byID   map[string]Position // open positions
	open   map[string]string   // asset -> position id
	closed []Position
}

// Ledger owns all positions. Mutations are serialized; reads never block
// and always see a consistent copy.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*Position
	open      map[string]string
	closed    []Position // terminal positions in close order, never rewritten
	snap      atomic.Pointer[snapshot]

	locksMu    sync.Mutex
	assetLocks map[string]*sync.Mutex
	entryMu    sync.Mutex

	persistMu    sync.Mutex
	store        Store
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewLedger creates an empty ledger. store may be nil.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	l := &Ledger{
		positions:    make(map[string]*Position),
		open:         make(map[string]string),
		assetLocks:   make(map[string]*sync.Mutex),
		store:        store,
		storeTimeout: 5 * time.Second,
		logger:       logger.Named("ledger"),
	}
	l.publish()
	return l
}

// LockAsset serializes multi-step work (check, execute, record) on one
// asset. Call the returned func to release.
func (l *Ledger) LockAsset(asset string) func() {
	l.locksMu.Lock()
	m, ok := l.assetLocks[asset]
	if !ok {
		m = &sync.Mutex{}
		l.assetLocks[asset] = m
	}
	l.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// LockEntries makes the capital and position-count check atomic with the
// entry that depends on it.
func (l *Ledger) LockEntries() func() {
	l.entryMu.Lock()
	return l.entryMu.Unlock
}

// Restore loads open positions from the store. Intended for startup.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	open, err := l.store.LoadOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}

	l.mu.Lock()
	restored := 0
	for i := range open {
		p := open[i]
		if p.State != StateOpen {
			continue
		}
		if _, dup := l.open[p.Asset]; dup {
			l.logger.Warn("Duplicate open position in store, skipping",
				zap.String("asset", p.Asset),
				zap.String("position_id", p.ID))
			continue
		}
		l.positions[p.ID] = &p
		l.open[p.Asset] = p.ID
		restored++
	}
	l.publish()
	l.mu.Unlock()

	l.logger.Info("Positions restored", zap.Int("open", restored))
	return restored, nil
}

// Open records a confirmed entry. If the asset already has an open
// position that position is returned with created=false.
func (l *Ledger) Open(ctx context.Context, fill Fill, rules Rules) (Position, bool, error) {
	if fill.Asset == "" || fill.Price <= 0 || fill.Size <= 0 {
		return Position{}, false, fmt.Errorf("%w: asset=%q price=%v size=%v", ErrInvalidFill, fill.Asset, fill.Price, fill.Size)
	}

	l.mu.Lock()
	if id, ok := l.open[fill.Asset]; ok {
		existing := *l.positions[id]
		l.mu.Unlock()
		return existing, false, nil
	}

	cost := fill.Value
	if cost == 0 {
		cost = fill.Price * fill.Size
	}
	p := &Position{
		ID:              uuid.NewString(),
		Asset:           fill.Asset,
		Symbol:          fill.Symbol,
		EntryPrice:      fill.Price,
		Size:            fill.Size,
		SizeRaw:         fill.SizeRaw,
		Decimals:        fill.Decimals,
		CostBasis:       cost,
		EntryTime:       fill.Time,
		EntryTx:         fill.TxRef,
		CurrentPrice:    fill.Price,
		PeakPrice:       fill.Price,
		LastObserved:    fill.Time,
		TargetPrice:     fill.Price * (1 + rules.ProfitTargetPct),
		StopPrice:       fill.Price * (1 - rules.StopLossPct),
		TrailingStopPct: rules.TrailingStopPct,
		MaxHold:         rules.MaxHold,
		State:           StateOpen,
	}
	l.positions[p.ID] = p
	l.open[p.Asset] = p.ID
	l.publish()
	out := *p
	l.mu.Unlock()

	l.persist(ctx, out)
	l.logger.Info("Position opened",
		zap.String("position_id", out.ID),
		zap.String("asset", out.Asset),
		zap.Float64("entry_price", out.EntryPrice),
		zap.Float64("size", out.Size),
		zap.Float64("cost_basis", out.CostBasis))
	return out, true, nil
}

// UpdateObservation records the latest price of an open position and
// raises the peak when exceeded. Terminal positions are left untouched.
func (l *Ledger) UpdateObservation(ctx context.Context, id string, price float64, at time.Time) (Position, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State.Terminal() || price <= 0 {
		out := *p
		l.mu.Unlock()
		return out, nil
	}

	newPeak := price > p.PeakPrice
	p.CurrentPrice = price
	p.LastObserved = at
	if newPeak {
		p.PeakPrice = price
	}
	l.publish()
	out := *p
	l.mu.Unlock()

	if newPeak {
		l.persist(ctx, out)
	}
	return out, nil
}

// Close moves an open position to its terminal state. Closing a terminal
// position is a programming error and panics with *InvariantViolation.
func (l *Ledger) Close(ctx context.Context, id string, fill Fill, reason ExitReason) (Position, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State.Terminal() {
		from := p.State
		l.mu.Unlock()
		panic(&InvariantViolation{PositionID: id, From: from, Op: "close"})
	}

	proceeds := fill.Value
	if proceeds == 0 {
		proceeds = fill.Price * p.Size
	}
	p.State = closedState(reason, p.EntryPrice, fill.Price)
	p.ExitPrice = fill.Price
	p.ExitTime = fill.Time
	p.ExitTx = fill.TxRef
	p.ExitReason = reason
	p.Proceeds = proceeds
	p.RealizedPnL = proceeds - p.CostBasis
	p.CurrentPrice = fill.Price
	delete(l.open, p.Asset)
	l.closed = append(l.closed, *p)
	l.publish()
	out := *p
	l.mu.Unlock()

	l.persist(ctx, out)
	l.logger.Info("Position closed",
		zap.String("position_id", out.ID),
		zap.String("asset", out.Asset),
		zap.String("reason", string(reason)),
		zap.String("state", string(out.State)),
		zap.Float64("exit_price", out.ExitPrice),
		zap.Float64("pnl", out.RealizedPnL))
	return out, nil
}

// Get returns a copy of the position with id.
func (l *Ledger) Get(id string) (Position, bool) {
	s := l.snap.Load()
	if p, ok := s.byID[id]; ok {
		return p, true
	}
	for i := len(s.closed) - 1; i >= 0; i-- {
		if s.closed[i].ID == id {
			return s.closed[i], true
		}
	}
	return Position{}, false
}

// OpenFor returns the open position on asset, if any.
func (l *Ledger) OpenFor(asset string) (Position, bool) {
	s := l.snap.Load()
	id, ok := s.open[asset]
	if !ok {
		return Position{}, false
	}
	return s.byID[id], true
}

// HasOpen reports whether asset has an open position.
func (l *Ledger) HasOpen(asset string) bool {
	_, ok := l.snap.Load().open[asset]
	return ok
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	return len(l.snap.Load().open)
}

// ClosedCount returns the number of terminal positions.
func (l *Ledger) ClosedCount() int {
	return len(l.snap.Load().closed)
}

// Deployed returns the cost basis of all open positions.
func (l *Ledger) Deployed() float64 {
	s := l.snap.Load()
	var total float64
	for _, id := range s.open {
		total += s.byID[id].CostBasis
	}
	return total
}

// List returns positions matching f ordered by entry time.
func (l *Ledger) List(f Filter) []Position {
	s := l.snap.Load()
	out := make([]Position, 0, len(s.byID)+len(s.closed))
	for _, p := range s.byID {
		if f.match(p.State) {
			out = append(out, p)
		}
	}
	for _, p := range s.closed {
		if f.match(p.State) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// publish rebuilds the read snapshot. Caller holds l.mu.
func (l *Ledger) publish() {
	n := len(l.closed)
	s := &snapshot{
		byID:   make(map[string]Position, len(l.open)),
		open:   make(map[string]string, len(l.open)),
		closed: l.closed[:n:n],
	}
	for asset, id := range l.open {
		s.open[asset] = id
		s.byID[id] = *l.positions[id]
	}
	l.snap.Store(s)
}

func (l *Ledger) persist(ctx context.Context, p Position) {
	if l.store == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	// A late observation write must not overwrite a close.
	if cur, ok := l.Get(p.ID); ok && cur.State.Terminal() && !p.State.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.storeTimeout)
	defer cancel()
	if err := l.store.Save(ctx, p); err != nil {
		l.logger.Error("Failed to persist position",
			zap.String("position_id", p.ID),
			zap.String("state", string(p.State)),
			zap.Error(err))
	}
}
