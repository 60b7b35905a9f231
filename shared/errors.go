package shared

import "errors"

var (
	// ErrDataUnavailable is returned when market or position data could not be fetched or is
	// insufficient for a decision.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrOrderRejected is returned when the exchange declines an order or a stop update.
	ErrOrderRejected = errors.New("order rejected")
	// ErrInvalidConfiguration is returned for configuration that fails validation at startup.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
