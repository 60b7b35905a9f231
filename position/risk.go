package position

import (
	"math"

	"github.com/dnldd/trail/shared"
)

// InitialStop returns the stop placed when a position is opened.
func InitialStop(side shared.Side, entryPrice float64, stopLossPercent float64) float64 {
	if side == shared.Short {
		return entryPrice * (1 + stopLossPercent/100)
	}

	return entryPrice * (1 - stopLossPercent/100)
}

// TakeProfit returns the take profit level placed when a position is opened.
func TakeProfit(side shared.Side, entryPrice float64, takeProfitPercent float64) float64 {
	if side == shared.Short {
		return entryPrice * (1 - takeProfitPercent/100)
	}

	return entryPrice * (1 + takeProfitPercent/100)
}

// ProfitPercent returns the unrealized profit percent of a position, positive when
// price moved in the position's favour.
func ProfitPercent(side shared.Side, entryPrice float64, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}

	if side == shared.Short {
		return (entryPrice - currentPrice) * 100 / entryPrice
	}

	return (currentPrice - entryPrice) * 100 / entryPrice
}

// TrailingStop returns the ratcheted stop for a position and whether it improves on
// the prior stop.
//
// The stop trails one full step behind the profit tier the price has cleared, is
// never looser than the prior stop (or the initial stop when none is set) and is
// only reported when it strictly improves on the prior stop.
func TrailingStop(side shared.Side, entryPrice float64, currentPrice float64, prior *float64,
	stopLossPercent float64, trailingStepPercent float64) (float64, bool) {
	if trailingStepPercent <= 0 || entryPrice <= 0 {
		return 0, false
	}

	profit := ProfitPercent(side, entryPrice, currentPrice)
	if profit < trailingStepPercent {
		return 0, false
	}

	steps := math.Floor(profit / trailingStepPercent)
	lock := entryPrice * (steps - 1) * trailingStepPercent / 100

	floor := InitialStop(side, entryPrice, stopLossPercent)
	if prior != nil {
		floor = *prior
	}

	var candidate float64
	switch side {
	case shared.Long:
		candidate = math.Max(entryPrice+lock, floor)
		if prior != nil && candidate <= *prior {
			return 0, false
		}
	case shared.Short:
		candidate = math.Min(entryPrice-lock, floor)
		if prior != nil && candidate >= *prior {
			return 0, false
		}
	default:
		return 0, false
	}

	return candidate, true
}

// Quantity returns the order quantity committing the provided capital at the
// provided price, floored to the quantity step when one is set.
func Quantity(capital float64, price float64, step float64) float64 {
	if price <= 0 || capital <= 0 {
		return 0
	}

	qty := capital / price
	if step > 0 {
		// The epsilon absorbs representation error for quantities landing on a step.
		qty = math.Floor(qty/step+1e-9) * step
	}

	return qty
}
