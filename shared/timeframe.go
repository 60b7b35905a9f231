package shared

import (
	"fmt"
	"time"
)

// Interval represents the candle interval as named by the exchange.
type Interval string

const (
	OneMinute     Interval = "1"
	ThreeMinute   Interval = "3"
	FiveMinute    Interval = "5"
	FifteenMinute Interval = "15"
	ThirtyMinute  Interval = "30"
	OneHour       Interval = "60"
	TwoHour       Interval = "120"
	FourHour      Interval = "240"
	SixHour       Interval = "360"
	TwelveHour    Interval = "720"
	OneDay        Interval = "D"
	OneWeek       Interval = "W"
	OneMonth      Interval = "M"
)

// unknownSpacing is the duration reported for unknown intervals.
const unknownSpacing = time.Duration(0)

// String stringifies the provided interval.
func (i Interval) String() string {
	switch i {
	case OneMinute:
		return "1m"
	case ThreeMinute:
		return "3m"
	case FiveMinute:
		return "5m"
	case FifteenMinute:
		return "15m"
	case ThirtyMinute:
		return "30m"
	case OneHour:
		return "1H"
	case TwoHour:
		return "2H"
	case FourHour:
		return "4H"
	case SixHour:
		return "6H"
	case TwelveHour:
		return "12H"
	case OneDay:
		return "1D"
	case OneWeek:
		return "1W"
	case OneMonth:
		return "1M"
	default:
		return "unknown"
	}
}

// Duration returns the nominal length of a candle of the provided interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case OneMinute:
		return time.Minute
	case ThreeMinute:
		return time.Minute * 3
	case FiveMinute:
		return time.Minute * 5
	case FifteenMinute:
		return time.Minute * 15
	case ThirtyMinute:
		return time.Minute * 30
	case OneHour:
		return time.Hour
	case TwoHour:
		return time.Hour * 2
	case FourHour:
		return time.Hour * 4
	case SixHour:
		return time.Hour * 6
	case TwelveHour:
		return time.Hour * 12
	case OneDay:
		return time.Hour * 24
	case OneWeek:
		return time.Hour * 24 * 7
	case OneMonth:
		return time.Hour * 24 * 30
	default:
		return unknownSpacing
	}
}

// ParseInterval parses the provided exchange interval.
func ParseInterval(s string) (Interval, error) {
	interval := Interval(s)
	if interval.Duration() == unknownSpacing {
		return "", fmt.Errorf("unknown interval provided: %q", s)
	}

	return interval, nil
}
