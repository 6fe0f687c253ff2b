package domain

import "math"

// MortalityRate returns round(100 * dead / (dead + live)), or nil when no
// live or dead plants were recorded.
func MortalityRate(live, dead int) *int {
	denominator := live + dead
	if denominator <= 0 {
		return nil
	}
	rate := int(math.Round(100 * float64(dead) / float64(denominator)))
	return &rate
}

// SurvivalRate returns round(100 * live / density), or nil when density is
// not positive.
func SurvivalRate(live int, density float64) *int {
	if density <= 0 {
		return nil
	}
	rate := int(math.Round(100 * float64(live) / density))
	return &rate
}
