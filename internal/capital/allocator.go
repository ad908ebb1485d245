// internal/capital/allocator.go
package capital

import (
	"errors"
	"fmt"
	"math"
)

// Rejection reasons.
const (
	ReasonMaxPositions   = "max concurrent positions reached"
	ReasonReserveFloor   = "available balance below reserve floor"
	ReasonBelowMinimum   = "position size below minimum viable size"
	ReasonInvalidBalance = "invalid balance"
)

// Config bounds capital exposure. All amounts are in SOL.
type Config struct {
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MaxPositionSize        float64 `mapstructure:"max_position_size"`
	MaxFractionPerTrade    float64 `mapstructure:"max_fraction_per_trade"`
	MinimumViableSize      float64 `mapstructure:"minimum_viable_size"`
	ReserveFloor           float64 `mapstructure:"reserve_floor"`
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentPositions <= 0:
		return errors.New("max_concurrent_positions must be positive")
	case c.MaxPositionSize <= 0:
		return errors.New("max_position_size must be positive")
	case c.MaxFractionPerTrade <= 0 || c.MaxFractionPerTrade > 1:
		return fmt.Errorf("max_fraction_per_trade must be in (0, 1], got %v", c.MaxFractionPerTrade)
	case c.MinimumViableSize < 0 || c.ReserveFloor < 0:
		return errors.New("minimum_viable_size and reserve_floor must not be negative")
	case c.MinimumViableSize > c.MaxPositionSize:
		return errors.New("minimum_viable_size exceeds max_position_size")
	}
	return nil
}

// Decision is the allocator verdict for one prospective entry.
type Decision struct {
	Approved bool
	Size     float64
	Reason   string
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Allocator decides whether and how much to enter. It holds no state.
type Allocator struct {
	cfg Config
}

// NewAllocator creates an allocator for cfg.
func NewAllocator(cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capital config: %w", err)
	}
	return &Allocator{cfg: cfg}, nil
}

// Config returns the allocator limits.
func (a *Allocator) Config() Config {
	return a.cfg
}

// SizeEntry applies the rules in order: position cap, reserve floor,
// size computation, minimum size.
func (a *Allocator) SizeEntry(available float64, openPositions int) Decision {
	if math.IsNaN(available) || math.IsInf(available, 0) {
		return reject(ReasonInvalidBalance)
	}
	if openPositions >= a.cfg.MaxConcurrentPositions {
		return reject(ReasonMaxPositions)
	}
	if available < a.cfg.ReserveFloor {
		return reject(ReasonReserveFloor)
	}

	size := math.Min(a.cfg.MaxPositionSize, available*a.cfg.MaxFractionPerTrade)
	if size < a.cfg.MinimumViableSize || size <= 0 {
		return reject(ReasonBelowMinimum)
	}
	return Decision{Approved: true, Size: size}
}

// Slots returns how many more positions may be opened.
func (a *Allocator) Slots(openPositions int) int {
	if n := a.cfg.MaxConcurrentPositions - openPositions; n > 0 {
		return n
	}
	return 0
}
