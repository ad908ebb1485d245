// internal/monitor/rules.go
package monitor

import (
	"time"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// Evaluate returns the exit rule that fires for p at price, if any.
// Rules are checked in a fixed order and the first match wins: profit
// target, stop loss, trailing stop, time limit. The trailing stop only
// fires while price is above entry.
func Evaluate(p position.Position, price float64, now time.Time) (position.ExitReason, bool) {
	if p.State.Terminal() || price <= 0 {
		return "", false
	}

	peak := p.PeakPrice
	if price > peak {
		peak = price
	}

	switch {
	case p.TargetPrice > 0 && price >= p.TargetPrice:
		return position.ReasonProfitTarget, true
	case p.StopPrice > 0 && price <= p.StopPrice:
		return position.ReasonStopLoss, true
	case p.TrailingStopPct > 0 && price > p.EntryPrice && peak-price >= peak*p.TrailingStopPct:
		return position.ReasonTrailingStop, true
	case p.MaxHold > 0 && now.Sub(p.EntryTime) >= p.MaxHold:
		return position.ReasonTimeLimit, true
	}
	return "", false
}

// TrailingFloor is the price at which the trailing stop fires for the
// given peak. Zero when the rule is disabled.
func TrailingFloor(p position.Position) float64 {
	if p.TrailingStopPct <= 0 {
		return 0
	}
	return p.PeakPrice * (1 - p.TrailingStopPct)
}
