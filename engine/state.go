package engine

import (
	"time"

	"github.com/dnldd/trail/shared"
)

// State represents the engine's position lifecycle state.
type State int

const (
	Flat State = iota
	Open
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case Flat:
		return "flat"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the engine published after every tick.
type Snapshot struct {
	State        State
	Side         shared.Side
	EntryPrice   float64
	Stop         float64
	TakeProfit   float64
	LastPrice    float64
	LastRSI      float64
	RSIAvailable bool
	UpdatedOn    time.Time
}
