package shared

// Side represents the direction of a position.
type Side int

const (
	Long Side = iota
	Short
)

// String stringifies the provided side.
func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// OrderSide returns the exchange order side used to open a position of the provided side.
func (s Side) OrderSide() string {
	switch s {
	case Long:
		return "Buy"
	case Short:
		return "Sell"
	default:
		return "unknown"
	}
}

// PositionIndex returns the hedge mode position index for the provided side.
func (s Side) PositionIndex() int {
	switch s {
	case Long:
		return 1
	case Short:
		return 2
	default:
		return 0
	}
}

// Opposite returns the side opposing the provided side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}

	return Long
}
