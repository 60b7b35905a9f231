package position

import (
	"fmt"
	"math"
	"time"

	"github.com/dnldd/trail/shared"
	"github.com/google/uuid"
)

// PositionStatus represents the status of a position.
type PositionStatus int

const (
	Active PositionStatus = iota
	StoppedOut
	TakeProfitHit
	Closed
)

// String stringifies the provided position status.
func (s PositionStatus) String() string {
	switch s {
	case Active:
		return "active"
	case StoppedOut:
		return "stopped out"
	case TakeProfitHit:
		return "take profit hit"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position represents the open position tracked for the traded symbol.
type Position struct {
	ID         string
	Symbol     string
	Side       shared.Side
	EntryPrice float64
	Quantity   float64
	// Stop is the protective stop confirmed on the exchange, nil until first placed.
	Stop       *float64
	TakeProfit float64
	CreatedOn  time.Time
}

// ClosedPosition represents a position the exchange reported as closed.
type ClosedPosition struct {
	ID         string
	Symbol     string
	Side       shared.Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	PNLPercent float64
	Status     PositionStatus
	CreatedOn  time.Time
	ClosedOn   time.Time
}

// NewPosition initializes a new position from an accepted entry.
func NewPosition(symbol string, side shared.Side, entryPrice float64, quantity float64, takeProfit float64, createdOn time.Time) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be an empty string")
	}
	if side != shared.Long && side != shared.Short {
		return nil, fmt.Errorf("unknown side provided: %s", side.String())
	}
	if math.IsNaN(entryPrice) || entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if math.IsNaN(quantity) || quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", quantity)
	}

	pos := &Position{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		TakeProfit: takeProfit,
		CreatedOn:  createdOn,
	}

	return pos, nil
}

// StopValue returns the current stop, zero when none has been placed.
func (p *Position) StopValue() float64 {
	if p.Stop == nil {
		return 0
	}

	return *p.Stop
}

// ValidateStop checks the provided stop can replace the current one.
//
// A stop that is worse than the current one for the position's side is rejected.
func (p *Position) ValidateStop(stop float64) error {
	if math.IsNaN(stop) || stop <= 0 {
		return fmt.Errorf("stop must be positive, got %v", stop)
	}

	if p.Stop != nil {
		switch {
		case p.Side == shared.Long && stop < *p.Stop:
			return fmt.Errorf("long stop cannot move down from %f to %f", *p.Stop, stop)
		case p.Side == shared.Short && stop > *p.Stop:
			return fmt.Errorf("short stop cannot move up from %f to %f", *p.Stop, stop)
		}
	}

	return nil
}

// UpdateStop records the provided stop as the position's protective stop.
func (p *Position) UpdateStop(stop float64) error {
	err := p.ValidateStop(stop)
	if err != nil {
		return err
	}

	p.Stop = &stop

	return nil
}

// PNLPercent returns the unrealized profit percent of the position at the provided price.
func (p *Position) PNLPercent(currentPrice float64) float64 {
	return ProfitPercent(p.Side, p.EntryPrice, currentPrice)
}

// Close concludes the position at the provided exit price.
func (p *Position) Close(exitPrice float64, closedOn time.Time) *ClosedPosition {
	closed := &ClosedPosition{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		StopLoss:   p.StopValue(),
		TakeProfit: p.TakeProfit,
		PNLPercent: p.PNLPercent(exitPrice),
		CreatedOn:  p.CreatedOn,
		ClosedOn:   closedOn,
	}

	stop := p.StopValue()
	switch {
	case p.Side == shared.Long && stop > 0 && exitPrice <= stop:
		closed.Status = StoppedOut
	case p.Side == shared.Short && stop > 0 && exitPrice >= stop:
		closed.Status = StoppedOut
	case p.Side == shared.Long && p.TakeProfit > 0 && exitPrice >= p.TakeProfit:
		closed.Status = TakeProfitHit
	case p.Side == shared.Short && p.TakeProfit > 0 && exitPrice <= p.TakeProfit:
		closed.Status = TakeProfitHit
	default:
		closed.Status = Closed
	}

	return closed
}
