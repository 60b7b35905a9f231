package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dnldd/trail/shared"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// PriceSource defines the requirements for pricing simulated fills.
type PriceSource interface {
	// FetchCurrentPrice fetches the last traded price of the provided symbol.
	FetchCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// BrokerConfig represents the configuration for the paper broker.
type BrokerConfig struct {
	// Prices provides the prices simulated orders fill at.
	Prices PriceSource
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *BrokerConfig) Validate() error {
	var errs error

	if cfg.Prices == nil {
		errs = errors.Join(errs, fmt.Errorf("price source cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// positionKey identifies a hedge mode position.
type positionKey struct {
	symbol string
	side   shared.Side
}

// Broker simulates a hedge mode derivatives account.
//
// Market orders fill at the current price and protective levels are checked
// against the current price whenever a position is fetched.
type Broker struct {
	cfg       *BrokerConfig
	positions map[positionKey]*shared.OpenPosition
	fills     atomic.Uint64
	mtx       sync.Mutex
}

// Ensure the Broker implements the position fetching and order placing interfaces.
var _ shared.PositionFetcher = (*Broker)(nil)
var _ shared.OrderPlacer = (*Broker)(nil)

// NewBroker initializes a new paper broker.
func NewBroker(cfg *BrokerConfig) (*Broker, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating broker config: %w", err)
	}

	return &Broker{
		cfg:       cfg,
		positions: make(map[positionKey]*shared.OpenPosition),
	}, nil
}

// Fills returns the number of simulated fills, entries and exits included.
func (b *Broker) Fills() uint64 {
	return b.fills.Load()
}

// PlaceMarketOrder opens or adds to a position of the provided side at the current price.
func (b *Broker) PlaceMarketOrder(ctx context.Context, symbol string, side shared.Side, quantity float64) (*shared.OrderFill, error) {
	if side != shared.Long && side != shared.Short {
		return nil, fmt.Errorf("%w: unknown side %s", shared.ErrOrderRejected, side.String())
	}
	if math.IsNaN(quantity) || quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %v", shared.ErrOrderRejected, quantity)
	}

	price, err := b.cfg.Prices.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing market order: %v", shared.ErrOrderRejected, err)
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	key := positionKey{symbol: symbol, side: side}
	pos, ok := b.positions[key]
	if ok {
		// Adding to a position averages its entry price.
		size := pos.Size + quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*quantity) / size
		pos.Size = size
	} else {
		b.positions[key] = &shared.OpenPosition{
			Symbol:     symbol,
			Side:       side,
			Size:       quantity,
			EntryPrice: price,
		}
	}

	b.fills.Inc()

	fill := &shared.OrderFill{
		OrderID:  uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Accepted: true,
	}

	b.cfg.Logger.Info().Msgf("paper %s order %s filled %f %s @ %f",
		side.OrderSide(), fill.OrderID, quantity, symbol, price)

	return fill, nil
}

// SetStopAndTakeProfit sets the protective levels of an open position.
func (b *Broker) SetStopAndTakeProfit(ctx context.Context, req shared.StopRequest) error {
	if math.IsNaN(req.StopLoss) || req.StopLoss <= 0 {
		return fmt.Errorf("%w: stop loss must be positive, got %v", shared.ErrOrderRejected, req.StopLoss)
	}
	if math.IsNaN(req.TakeProfit) || req.TakeProfit < 0 {
		return fmt.Errorf("%w: take profit cannot be negative, got %v", shared.ErrOrderRejected, req.TakeProfit)
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	pos, ok := b.positions[positionKey{symbol: req.Symbol, side: req.Side}]
	if !ok {
		return fmt.Errorf("%w: no %s position for %s", shared.ErrOrderRejected, req.Side.String(), req.Symbol)
	}

	pos.StopLoss = req.StopLoss
	if req.TakeProfit > 0 {
		pos.TakeProfit = req.TakeProfit
	}

	b.cfg.Logger.Debug().Msgf("paper %s position (idx %d) for %s levels set, stop %f, take profit %f",
		req.Side.String(), req.Side.PositionIndex(), req.Symbol, pos.StopLoss, pos.TakeProfit)

	return nil
}

// triggered returns whether the current price crosses the position's protective levels.
func triggered(pos *shared.OpenPosition, price float64) bool {
	switch pos.Side {
	case shared.Long:
		return (pos.StopLoss > 0 && price <= pos.StopLoss) ||
			(pos.TakeProfit > 0 && price >= pos.TakeProfit)
	case shared.Short:
		return (pos.StopLoss > 0 && price >= pos.StopLoss) ||
			(pos.TakeProfit > 0 && price <= pos.TakeProfit)
	default:
		return false
	}
}

// FetchOpenPosition fetches the position for the provided symbol and side.
//
// A position whose protective levels the current price has crossed is closed
// before being reported, leaving a zero size position.
func (b *Broker) FetchOpenPosition(ctx context.Context, symbol string, side shared.Side) (*shared.OpenPosition, error) {
	key := positionKey{symbol: symbol, side: side}

	b.mtx.Lock()
	_, ok := b.positions[key]
	b.mtx.Unlock()
	if !ok {
		return &shared.OpenPosition{Symbol: symbol, Side: side}, nil
	}

	price, err := b.cfg.Prices.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("pricing %s position for %s: %w", side.String(), symbol, err)
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	pos, ok := b.positions[key]
	if !ok {
		return &shared.OpenPosition{Symbol: symbol, Side: side}, nil
	}

	if triggered(pos, price) {
		delete(b.positions, key)
		b.fills.Inc()

		b.cfg.Logger.Info().Msgf("paper %s exit closed %s position for %s @ %f (stop %f, take profit %f)",
			side.Opposite().OrderSide(), side.String(), symbol, price, pos.StopLoss, pos.TakeProfit)

		return &shared.OpenPosition{Symbol: symbol, Side: side}, nil
	}

	snapshot := *pos

	return &snapshot, nil
}
