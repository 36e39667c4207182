// Package scoring computes composite ranking scores and keeps them current
// in the profile store.
package scoring

import (
	"math"
	"time"
)

// Formula weights. Rating and rentals dominate; recency only breaks ties
// between otherwise similar users. Existing ranked data depends on these
// exact values.
const (
	RatingWeight = 1000
	RentalWeight = 10

	day = 24 * time.Hour
)

// recencyStep maps an inclusive upper bound in days to a bonus.
type recencyStep struct {
	maxDays int
	bonus   float64
}

var recencySteps = []recencyStep{ //nolint:gochecknoglobals // immutable lookup table
	{maxDays: 1, bonus: 100},
	{maxDays: 3, bonus: 70},
	{maxDays: 7, bonus: 50},
	{maxDays: 14, bonus: 30},
	{maxDays: 30, bonus: 10},
}

// DaysSince returns the number of whole days elapsed between reference and now.
func DaysSince(reference, now time.Time) int {
	return int(math.Floor(float64(now.Sub(reference)) / float64(day)))
}

// RecencyBonus returns the step bonus for the given number of inactive days.
// Bucket bounds are inclusive.
func RecencyBonus(days int) float64 {
	for _, step := range recencySteps {
		if days <= step.maxDays {
			return step.bonus
		}
	}
	return 0
}

// FormulaScore computes rating×1000 + rentals×10 + recency bonus, with the
// bonus taken from the days between reference and now.
func FormulaScore(rating float64, rentals int, reference, now time.Time) float64 {
	return rating*RatingWeight + float64(rentals)*RentalWeight + RecencyBonus(DaysSince(reference, now))
}
