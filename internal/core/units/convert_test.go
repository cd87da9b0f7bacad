package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHubScale(t *testing.T) {
	tests := []struct {
		percent  float64
		expected int
	}{
		{0, 0},
		{100, 255},
		{50, 128},
		{1, 3},
		{99, 252},
		{25, 64},
		{75, 191},
		{-10, 0},   // clamped
		{150, 255}, // clamped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToHubScale(tt.percent), "percent %v", tt.percent)
	}
}

func TestToPercent(t *testing.T) {
	tests := []struct {
		raw      int
		expected int
	}{
		{0, 0},
		{255, 100},
		{128, 50},
		{1, 0},
		{254, 100},
		{64, 25},
		{-5, 0},   // clamped
		{300, 100}, // clamped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToPercent(tt.raw), "raw %v", tt.raw)
	}
}

func TestToHubScaleMonotonic(t *testing.T) {
	prev := ToHubScale(0)
	for p := 1; p <= 100; p++ {
		cur := ToHubScale(float64(p))
		assert.GreaterOrEqual(t, cur, prev, "percent %d", p)
		prev = cur
	}
}

func TestToPercentMonotonic(t *testing.T) {
	prev := ToPercent(0)
	for raw := 1; raw <= 255; raw++ {
		cur := ToPercent(raw)
		assert.GreaterOrEqual(t, cur, prev, "raw %d", raw)
		prev = cur
	}
}

func TestRoundTripWithinOne(t *testing.T) {
	for p := 0; p <= 100; p++ {
		got := ToPercent(ToHubScale(float64(p)))
		assert.InDelta(t, p, got, 1, "percent %d", p)
	}
}

func TestRoundTripEndpoints(t *testing.T) {
	assert.Equal(t, 0, ToPercent(ToHubScale(0)))
	assert.Equal(t, 100, ToPercent(ToHubScale(100)))
	assert.Equal(t, 0, ToHubScale(float64(ToPercent(0))))
	assert.Equal(t, 255, ToHubScale(float64(ToPercent(255))))
}
