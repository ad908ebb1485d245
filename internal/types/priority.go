package types

import (
	"fmt"
	"strings"
)

type PriorityLevel string

const (
	PriorityAuto    PriorityLevel = "auto"
	PriorityLow     PriorityLevel = "low"
	PriorityMedium  PriorityLevel = "medium"
	PriorityHigh    PriorityLevel = "high"
	PriorityExtreme PriorityLevel = "extreme"
)

// priorityFees are prioritization fees in lamports per swap.
var priorityFees = map[PriorityLevel]uint64{
	PriorityAuto:    0,
	PriorityLow:     10_000,
	PriorityMedium:  50_000,
	PriorityHigh:    200_000,
	PriorityExtreme: 1_000_000,
}

// ParsePriority validates a configured priority level.
func ParsePriority(s string) (PriorityLevel, error) {
	level := PriorityLevel(strings.ToLower(strings.TrimSpace(s)))
	if level == "" {
		return PriorityAuto, nil
	}
	if _, ok := priorityFees[level]; !ok {
		return "", fmt.Errorf("unknown priority level %q", s)
	}
	return level, nil
}

// FeeLamports returns the prioritization fee for the level. Zero means the
// aggregator chooses.
func (p PriorityLevel) FeeLamports() uint64 {
	return priorityFees[p]
}
