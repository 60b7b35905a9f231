package engine

import "github.com/dnldd/trail/shared"

// EvaluateEntry returns the side signalled by the provided RSI value.
//
// Long is checked first, so it takes priority when user supplied thresholds make
// both conditions true at once.
func EvaluateEntry(rsi float64, longThreshold float64, shortThreshold float64) (shared.Side, bool) {
	switch {
	case rsi < longThreshold:
		return shared.Long, true
	case rsi > shortThreshold:
		return shared.Short, true
	default:
		return shared.Long, false
	}
}
