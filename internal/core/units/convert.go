// Package units converts between the human-facing percentage scale and the
// hub's native 0-255 byte scale used for brightness, volume, and similar
// levels.
package units

import "math"

// ToHubScale converts a 0-100 percentage to the hub's 0-255 scale,
// rounding to the nearest step. Inputs outside the range are clamped, so
// the endpoints are exact: 0% is 0 and 100% is 255.
func ToHubScale(percent float64) int {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 255
	}
	return int(math.Round(percent / 100 * 255))
}

// ToPercent converts a hub 0-255 value back to a 0-100 percentage,
// rounding to the nearest whole percent. Inputs outside the range are
// clamped.
func ToPercent(raw int) int {
	if raw <= 0 {
		return 0
	}
	if raw >= 255 {
		return 100
	}
	return int(math.Round(float64(raw) / 255 * 100))
}
