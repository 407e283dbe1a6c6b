// Package ticks converts between seconds and the 100ns tick unit used
// on the wire for segment offsets and durations.
package ticks

import "math"

// PerSecond is the number of ticks in one second (100ns resolution).
const PerSecond int64 = 10_000_000

// FromSeconds rounds a duration in seconds to the nearest tick.
func FromSeconds(seconds float64) int64 {
	return int64(math.Round(seconds * float64(PerSecond)))
}

// ToSeconds converts a tick count to seconds.
func ToSeconds(t int64) float64 {
	return float64(t) / float64(PerSecond)
}
