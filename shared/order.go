package shared

// OpenPosition represents the exchange view of a position for a symbol and side.
type OpenPosition struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	// StopLoss is the stop price currently set on the exchange, zero when unset.
	StopLoss float64
	// TakeProfit is the take profit price currently set on the exchange, zero when unset.
	TakeProfit float64
}

// IsOpen returns whether the position has an open size.
func (p *OpenPosition) IsOpen() bool {
	return p != nil && p.Size > 0
}

// OrderFill represents the exchange confirmation of a market order.
type OrderFill struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity float64
	// Price is the average fill price, zero when the exchange does not report one.
	Price    float64
	Accepted bool
}

// StopRequest represents a request to set the protective levels of a position.
type StopRequest struct {
	Symbol   string
	Side     Side
	StopLoss float64
	// TakeProfit of zero leaves the take profit currently set on the exchange unchanged.
	TakeProfit float64
}
