package indicator

import (
	"math"

	"github.com/dnldd/trail/shared"
)

const (
	// reportedRows is the number of trailing rows kept for observability.
	reportedRows = 5
)

// RSIRow represents a single computed row of the RSI series.
type RSIRow struct {
	Timestamp int64
	Close     float64
	AvgGain   float64
	AvgLoss   float64
	RSI       float64
	// Available is false for rows before the smoothing has seen a full period of samples.
	Available bool
}

// RSIResult represents the outcome of an RSI computation.
type RSIResult struct {
	// Value is the full precision RSI of the latest close.
	Value float64
	// Rounded is the RSI rounded to two decimal places for reporting.
	Rounded float64
	// Available is false when the history could not produce an RSI value.
	Available bool
	// Rows holds the last few computed rows, oldest first.
	Rows []RSIRow
}

// unavailable returns a result marked unavailable.
func unavailable() RSIResult {
	return RSIResult{}
}

// RoundTo rounds the provided value to the provided number of decimal places.
func RoundTo(value float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}

// relativeStrength converts smoothed gains and losses to an RSI value.
// A window with neither gains nor losses is undefined and has no RSI.
func relativeStrength(avgGain float64, avgLoss float64) (float64, bool) {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 0, false
	case avgLoss == 0:
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// ComputeRSI computes the Wilder relative strength index of the provided price history.
//
// The history is sorted by timestamp before use. Gains and losses are smoothed
// exponentially with a factor of 1/period, an average existing only once a full
// period of price changes has been observed.
func ComputeRSI(points []shared.PricePoint, period int) RSIResult {
	if period < 1 {
		return unavailable()
	}

	sorted := shared.SortPricePoints(points)
	if len(sorted) < period+1 {
		return unavailable()
	}

	for idx := range sorted {
		if !isValidClose(sorted[idx].Close) {
			return unavailable()
		}
	}

	alpha := 1 / float64(period)
	decay := 1 - alpha

	rows := make([]RSIRow, len(sorted))
	rows[0] = RSIRow{Timestamp: sorted[0].Timestamp, Close: sorted[0].Close}

	// Weighted sums of the adjusted exponential mean, the weight of the newest
	// sample is one and older samples decay by (1 - alpha) per step.
	var gainSum, lossSum, weightSum float64
	for idx := 1; idx < len(sorted); idx++ {
		change := sorted[idx].Close - sorted[idx-1].Close
		gain := math.Max(change, 0)
		loss := math.Max(-change, 0)

		gainSum = gain + decay*gainSum
		lossSum = loss + decay*lossSum
		weightSum = 1 + decay*weightSum

		row := RSIRow{Timestamp: sorted[idx].Timestamp, Close: sorted[idx].Close}
		if idx >= period {
			row.AvgGain = gainSum / weightSum
			row.AvgLoss = lossSum / weightSum
			row.RSI, row.Available = relativeStrength(row.AvgGain, row.AvgLoss)
		}

		rows[idx] = row
	}

	last := rows[len(rows)-1]
	if !last.Available {
		return unavailable()
	}

	start := max(len(rows)-reportedRows, 0)
	tail := make([]RSIRow, len(rows)-start)
	copy(tail, rows[start:])

	return RSIResult{
		Value:     last.RSI,
		Rounded:   RoundTo(last.RSI, 2),
		Available: true,
		Rows:      tail,
	}
}

// isValidClose returns whether the provided close price is usable.
func isValidClose(price float64) bool {
	return !math.IsNaN(price) && !math.IsInf(price, 0) && price > 0
}
