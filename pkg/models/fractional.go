package models

import "math"

// RebalanceEpsilon is the minimum gap between adjacent positions before a
// rebalance is required.
const RebalanceEpsilon = 1e-10

// Midpoint returns a position strictly between a and b.
func Midpoint(a, b float64) float64 {
	return a + (b-a)/2
}

// After returns the position to use when appending after the given position.
func After(last float64) float64 {
	return last + 1
}

// Before returns the position to use when inserting before the given
// position.
func Before(first float64) float64 {
	return first - 1
}

// NeedsRebalance reports whether the gap between adjacent positions a < b is
// too small to safely insert between them again.
func NeedsRebalance(a, b float64) bool {
	return math.Abs(b-a) < RebalanceEpsilon
}

// Rebalance assigns strictly increasing positions with gaps >= 1 across n
// siblings, preserving their relative order.
func Rebalance(n int) []float64 {
	positions := make([]float64, n)
	for i := range positions {
		positions[i] = float64(i)
	}
	return positions
}
