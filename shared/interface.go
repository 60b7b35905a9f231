package shared

import (
	"context"
)

// MarketFetcher defines the requirements for fetching market data.
type MarketFetcher interface {
	// FetchRecentCloses fetches the most recent candle closes for the provided symbol.
	FetchRecentCloses(ctx context.Context, symbol string, interval Interval, count int) ([]PricePoint, error)
	// FetchCurrentPrice fetches the last traded price of the provided symbol.
	FetchCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionFetcher defines the requirements for fetching positions.
type PositionFetcher interface {
	// FetchOpenPosition fetches the position for the provided symbol and side.
	FetchOpenPosition(ctx context.Context, symbol string, side Side) (*OpenPosition, error)
}

// OrderPlacer defines the requirements for placing orders and protective levels.
type OrderPlacer interface {
	// PlaceMarketOrder opens a position of the provided side and quantity at market.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderFill, error)
	// SetStopAndTakeProfit sets the protective levels of an open position.
	SetStopAndTakeProfit(ctx context.Context, req StopRequest) error
}

// Exchange defines the full capability set the trading engine depends on.
type Exchange interface {
	MarketFetcher
	PositionFetcher
	OrderPlacer
}
