// internal/capital/allocator_test.go
package capital

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxConcurrentPositions: 5,
		MaxPositionSize:        0.5,
		MaxFractionPerTrade:    0.1,
		MinimumViableSize:      0.05,
		ReserveFloor:           0.2,
	}
}

func TestSizeEntry(t *testing.T) {
	a, err := NewAllocator(testConfig())
	require.NoError(t, err)

	tests := []struct {
		name      string
		available float64
		open      int
		approved  bool
		size      float64
		reason    string
	}{
		{"at position cap", 100, 5, false, 0, ReasonMaxPositions},
		{"over position cap", 100, 7, false, 0, ReasonMaxPositions},
		{"below reserve", 0.1, 0, false, 0, ReasonReserveFloor},
		{"fraction bound", 2, 0, true, 0.2, ""},
		{"max size bound", 100, 4, true, 0.5, ""},
		{"below minimum", 0.3, 0, false, 0, ReasonBelowMinimum},
		{"exact minimum", 0.5, 0, true, 0.05, ""},
		{"nan balance", math.NaN(), 0, false, 0, ReasonInvalidBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := a.SizeEntry(tt.available, tt.open)
			assert.Equal(t, tt.approved, d.Approved)
			assert.InDelta(t, tt.size, d.Size, 1e-9)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestSizeEntry_NeverExceedsCap(t *testing.T) {
	a, err := NewAllocator(testConfig())
	require.NoError(t, err)

	for open := 0; open < 10; open++ {
		for _, bal := range []float64{0, 0.25, 1, 3.7, 50, 1e6} {
			d := a.SizeEntry(bal, open)
			if !d.Approved {
				continue
			}
			assert.Less(t, open, 5)
			assert.LessOrEqual(t, d.Size, 0.5)
			assert.LessOrEqual(t, d.Size, bal*0.1+1e-12)
		}
	}
}

func TestSlots(t *testing.T) {
	a, err := NewAllocator(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 5, a.Slots(0))
	assert.Equal(t, 2, a.Slots(3))
	assert.Equal(t, 0, a.Slots(5))
	assert.Equal(t, 0, a.Slots(9))
}

func TestConfigValidate(t *testing.T) {
	bad := testConfig()
	bad.MaxFractionPerTrade = 1.5
	_, err := NewAllocator(bad)
	assert.Error(t, err)

	bad = testConfig()
	bad.MaxConcurrentPositions = 0
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.MinimumViableSize = 1
	assert.Error(t, bad.Validate())
}
