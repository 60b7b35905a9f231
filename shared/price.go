package shared

import (
	"slices"
)

// PricePoint represents a closing price at an exchange assigned timestamp.
type PricePoint struct {
	// Timestamp is the candle start time in unix milliseconds.
	Timestamp int64
	// Close is the candle close price.
	Close float64
}

// SortPricePoints returns a copy of the provided points sorted ascending by timestamp.
//
// Points sharing a timestamp collapse to the last one supplied, so a candle
// revised in a later payload replaces the earlier print.
func SortPricePoints(points []PricePoint) []PricePoint {
	sorted := make([]PricePoint, len(points))
	copy(sorted, points)

	// A stable sort keeps duplicates in input order, the last of each run wins.
	slices.SortStableFunc(sorted, func(a, b PricePoint) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	deduped := sorted[:0]
	for idx := range sorted {
		if len(deduped) > 0 && deduped[len(deduped)-1].Timestamp == sorted[idx].Timestamp {
			deduped[len(deduped)-1] = sorted[idx]
			continue
		}
		deduped = append(deduped, sorted[idx])
	}

	return deduped
}
