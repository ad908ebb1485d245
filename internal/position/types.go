// internal/position/types.go
package position

import (
	"time"
)

// State of a position. Everything except StateOpen is terminal.
type State string

const (
	StateOpen          State = "OPEN"
	StateClosedProfit  State = "CLOSED_PROFIT"
	StateClosedLoss    State = "CLOSED_LOSS"
	StateClosedTimeout State = "CLOSED_TIMEOUT"
	StateClosedManual  State = "CLOSED_MANUAL"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s != StateOpen
}

// ExitReason records which rule closed a position.
type ExitReason string

const (
	ReasonProfitTarget ExitReason = "PROFIT_TARGET"
	ReasonStopLoss     ExitReason = "STOP_LOSS"
	ReasonTrailingStop ExitReason = "TRAILING_STOP"
	ReasonTimeLimit    ExitReason = "TIME_LIMIT"
	ReasonManual       ExitReason = "MANUAL"
)

// closedState maps an exit reason and outcome to the terminal state.
func closedState(reason ExitReason, entry, exit float64) State {
	switch reason {
	case ReasonProfitTarget:
		return StateClosedProfit
	case ReasonStopLoss:
		return StateClosedLoss
	case ReasonTimeLimit:
		return StateClosedTimeout
	case ReasonManual:
		return StateClosedManual
	default:
		if exit > entry {
			return StateClosedProfit
		}
		return StateClosedLoss
	}
}

// Filter selects positions by state class.
type Filter string

const (
	FilterOpen   Filter = "open"
	FilterClosed Filter = "closed"
	FilterAll    Filter = "all"
)

// ParseFilter accepts open, closed or all (empty means all).
func ParseFilter(s string) (Filter, bool) {
	switch Filter(s) {
	case FilterOpen, FilterClosed, FilterAll:
		return Filter(s), true
	case "":
		return FilterAll, true
	}
	return "", false
}

func (f Filter) match(s State) bool {
	switch f {
	case FilterOpen:
		return s == StateOpen
	case FilterClosed:
		return s.Terminal()
	default:
		return true
	}
}

// Rules are the exit parameters fixed at entry.
type Rules struct {
	ProfitTargetPct float64
	StopLossPct     float64
	TrailingStopPct float64
	MaxHold         time.Duration
}

// Fill is a confirmed trade as observed on chain.
type Fill struct {
	Asset    string
	Symbol   string
	Price    float64 // SOL per whole token
	Size     float64 // whole tokens
	SizeRaw  uint64
	Decimals uint8
	Value    float64 // SOL spent on entry, received on exit
	TxRef    string
	Time     time.Time
}

// Position is a single lifecycle from entry to exit.
type Position struct {
	ID     string `json:"id"`
	Asset  string `json:"asset"`
	Symbol string `json:"symbol,omitempty"`

	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	SizeRaw    uint64    `json:"size_raw"`
	Decimals   uint8     `json:"decimals"`
	CostBasis  float64   `json:"cost_basis"`
	EntryTime  time.Time `json:"entry_time"`
	EntryTx    string    `json:"entry_tx"`

	CurrentPrice float64   `json:"current_price"`
	PeakPrice    float64   `json:"peak_price"`
	LastObserved time.Time `json:"last_observed,omitempty"`

	TargetPrice     float64       `json:"target_price"`
	StopPrice       float64       `json:"stop_price"`
	TrailingStopPct float64       `json:"trailing_stop_pct"`
	MaxHold         time.Duration `json:"max_hold"`

	State       State      `json:"state"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	ExitTime    time.Time  `json:"exit_time,omitempty"`
	ExitTx      string     `json:"exit_tx,omitempty"`
	ExitReason  ExitReason `json:"exit_reason,omitempty"`
	Proceeds    float64    `json:"proceeds,omitempty"`
	RealizedPnL float64    `json:"realized_pnl,omitempty"`
}

// UnrealizedPnL values the open size at the last observed price.
func (p Position) UnrealizedPnL() float64 {
	if p.State.Terminal() || p.CurrentPrice == 0 {
		return 0
	}
	return p.Size*p.CurrentPrice - p.CostBasis
}

// PnLPercent is realized PnL for closed positions and unrealized otherwise.
func (p Position) PnLPercent() float64 {
	if p.CostBasis == 0 {
		return 0
	}
	pnl := p.RealizedPnL
	if !p.State.Terminal() {
		pnl = p.UnrealizedPnL()
	}
	return pnl / p.CostBasis * 100
}

// Held is how long the position has been (or was) open.
func (p Position) Held(now time.Time) time.Duration {
	if p.State.Terminal() {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}
