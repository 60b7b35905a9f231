package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/trail/indicator"
	"github.com/dnldd/trail/metrics"
	"github.com/dnldd/trail/position"
	"github.com/dnldd/trail/shared"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// DefaultScanInterval is the delay between ticks while scanning for entries.
	DefaultScanInterval = time.Second * 60
	// DefaultManageInterval is the delay between ticks while managing a position.
	DefaultManageInterval = time.Second * 10
	// DefaultCloseCooldown is the delay after a detected close before scanning resumes.
	DefaultCloseCooldown = time.Second * 60
	// DefaultRetryInterval is the delay after a skipped or failed tick.
	DefaultRetryInterval = time.Second * 10
)

// EngineConfig represents the trading engine configuration.
type EngineConfig struct {
	// Strategy represents the strategy parameters of the run.
	Strategy shared.StrategyConfig
	// Exchange represents the exchange capability set.
	Exchange shared.Exchange
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedPosition persists the provided closed position.
	PersistClosedPosition func(pos *position.ClosedPosition) error
	// ScanInterval is the delay between ticks while flat.
	ScanInterval time.Duration
	// ManageInterval is the delay between ticks while a position is open.
	ManageInterval time.Duration
	// CloseCooldown is the delay after a detected close.
	CloseCooldown time.Duration
	// RetryInterval is the delay after a skipped tick.
	RetryInterval time.Duration
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if err := cfg.Strategy.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Exchange == nil {
		errs = errors.Join(errs, fmt.Errorf("exchange cannot be nil"))
	}
	if cfg.Notify == nil {
		errs = errors.Join(errs, fmt.Errorf("notify function cannot be nil"))
	}
	if cfg.PersistClosedPosition == nil {
		errs = errors.Join(errs, fmt.Errorf("persist closed position function cannot be nil"))
	}
	if cfg.ScanInterval < 0 || cfg.ManageInterval < 0 || cfg.CloseCooldown < 0 || cfg.RetryInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("tick intervals cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Engine opens positions on RSI signals and trails their stops until they close.
//
// The engine is driven one tick at a time and is the only writer of the
// tracked position.
type Engine struct {
	cfg      *EngineConfig
	position *position.Position
	rsi      indicator.RSIResult
	snapshot atomic.Pointer[Snapshot]
}

// NewEngine initializes a new trading engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating engine config: %w", err)
	}

	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ManageInterval == 0 {
		cfg.ManageInterval = DefaultManageInterval
	}
	if cfg.CloseCooldown == 0 {
		cfg.CloseCooldown = DefaultCloseCooldown
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{cfg: cfg}
	e.snapshot.Store(&Snapshot{State: Flat, UpdatedOn: cfg.Now()})

	return e, nil
}

// Snapshot returns the engine state as of the last completed tick.
func (e *Engine) Snapshot() Snapshot {
	return *e.snapshot.Load()
}

// publishSnapshot stores the current engine state for concurrent readers.
func (e *Engine) publishSnapshot(price float64) {
	snap := &Snapshot{
		State:        Flat,
		LastPrice:    price,
		LastRSI:      e.rsi.Value,
		RSIAvailable: e.rsi.Available,
		UpdatedOn:    e.cfg.Now(),
	}

	if e.position != nil {
		snap.State = Open
		snap.Side = e.position.Side
		snap.EntryPrice = e.position.EntryPrice
		snap.Stop = e.position.StopValue()
		snap.TakeProfit = e.position.TakeProfit
	}

	e.snapshot.Store(snap)
}

// state returns the current lifecycle state.
func (e *Engine) state() State {
	if e.position != nil {
		return Open
	}

	return Flat
}

// Tick advances the engine by one step and returns the delay before the next tick.
//
// A tick never fails: collaborator errors and panics are logged and turned into
// a retry delay.
func (e *Engine) Tick(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error().Msgf("recovered from tick failure: %v", r)
			metrics.TickErrors.WithLabelValues("panic").Inc()
			delay = e.cfg.RetryInterval
		}
	}()

	metrics.Ticks.WithLabelValues(e.state().String()).Inc()

	symbol := e.cfg.Strategy.Symbol
	price, err := e.cfg.Exchange.FetchCurrentPrice(ctx, symbol)
	if err == nil && !(price > 0) {
		err = fmt.Errorf("%w: unusable price %v", shared.ErrDataUnavailable, price)
	}
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching current price for %s: %v", symbol, err)
		metrics.TickErrors.WithLabelValues("price").Inc()
		return e.cfg.RetryInterval
	}

	var next *position.Position
	switch e.position {
	case nil:
		next, delay = e.scan(ctx, price)
	default:
		next, delay = e.manage(ctx, e.position, price)
	}

	e.position = next
	e.publishSnapshot(price)

	return delay
}

// computeRSI fetches a fresh price history and computes the RSI from it.
func (e *Engine) computeRSI(ctx context.Context) indicator.RSIResult {
	strategy := &e.cfg.Strategy
	points, err := e.cfg.Exchange.FetchRecentCloses(ctx, strategy.Symbol, strategy.Interval, strategy.CandleLimit)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching recent closes for %s: %v", strategy.Symbol, err)
		metrics.TickErrors.WithLabelValues("closes").Inc()
		return indicator.RSIResult{}
	}

	res := indicator.ComputeRSI(points, strategy.RSIPeriod)
	if !res.Available {
		e.cfg.Logger.Warn().Msgf("rsi unavailable for %s from %d closes", strategy.Symbol, len(points))
		metrics.TickErrors.WithLabelValues("rsi").Inc()
		return res
	}

	metrics.RSI.Set(res.Value)
	for idx := range res.Rows {
		row := res.Rows[idx]
		if !row.Available {
			continue
		}
		e.cfg.Logger.Debug().Msgf("close: %f, rsi: %.2f", row.Close, indicator.RoundTo(row.RSI, 2))
	}

	return res
}

// hasOpenPosition checks the exchange for an open position of the provided side.
// A failed check counts as an open position.
func (e *Engine) hasOpenPosition(ctx context.Context, side shared.Side) bool {
	symbol := e.cfg.Strategy.Symbol
	open, err := e.cfg.Exchange.FetchOpenPosition(ctx, symbol, side)
	if err != nil {
		e.cfg.Logger.Error().Msgf("checking %s %s position, assuming open: %v", symbol, side.String(), err)
		metrics.TickErrors.WithLabelValues("position").Inc()
		return true
	}

	return open.IsOpen()
}

// scan evaluates the RSI for an entry and opens a position when signalled.
func (e *Engine) scan(ctx context.Context, price float64) (*position.Position, time.Duration) {
	strategy := &e.cfg.Strategy

	e.rsi = e.computeRSI(ctx)
	if !e.rsi.Available {
		return nil, e.cfg.ScanInterval
	}

	e.cfg.Logger.Info().Msgf("%s rsi: %.2f", strategy.Symbol, e.rsi.Rounded)

	side, ok := EvaluateEntry(e.rsi.Value, strategy.LongThreshold, strategy.ShortThreshold)
	if !ok {
		return nil, e.cfg.ScanInterval
	}

	if e.hasOpenPosition(ctx, side) {
		e.cfg.Logger.Info().Msgf("%s signal ignored, %s position already open on the exchange",
			side.String(), strategy.Symbol)
		return nil, e.cfg.ScanInterval
	}

	e.cfg.Logger.Info().Msgf("%s signal detected for %s at rsi %.2f", side.String(), strategy.Symbol, e.rsi.Rounded)

	pos, err := e.openPosition(ctx, side, price)
	if err != nil {
		e.cfg.Logger.Error().Msgf("opening %s %s position: %v", strategy.Symbol, side.String(), err)
		return nil, e.cfg.ScanInterval
	}

	return pos, e.cfg.ScanInterval
}

// openPosition places a market entry and the initial protective levels.
func (e *Engine) openPosition(ctx context.Context, side shared.Side, price float64) (*position.Position, error) {
	strategy := &e.cfg.Strategy

	qty := position.Quantity(strategy.Capital, price, strategy.QuantityStep)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: capital %f at price %f sizes to zero quantity",
			shared.ErrOrderRejected, strategy.Capital, price)
	}

	fill, err := e.cfg.Exchange.PlaceMarketOrder(ctx, strategy.Symbol, side, qty)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues(side.String(), "failed").Inc()
		return nil, fmt.Errorf("placing market order: %w", err)
	}
	if fill == nil || !fill.Accepted {
		metrics.OrdersSubmitted.WithLabelValues(side.String(), "rejected").Inc()
		return nil, fmt.Errorf("%w: market order for %f %s not accepted", shared.ErrOrderRejected, qty, strategy.Symbol)
	}

	metrics.OrdersSubmitted.WithLabelValues(side.String(), "accepted").Inc()

	entry := price
	if fill.Price > 0 {
		entry = fill.Price
	}
	if fill.Quantity > 0 {
		qty = fill.Quantity
	}

	takeProfit := position.TakeProfit(side, entry, strategy.TakeProfitPercent)
	pos, err := position.NewPosition(strategy.Symbol, side, entry, qty, takeProfit, e.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("creating position: %w", err)
	}

	// The position is tracked before any hook runs so a failing hook cannot
	// orphan a filled order.
	e.position = pos

	stop := position.InitialStop(side, entry, strategy.StopLossPercent)
	e.pushStop(ctx, pos, stop, takeProfit, "initial")

	msg := fmt.Sprintf("Opened %s position (%s) for %s @ %f, quantity %f",
		side.String(), pos.ID, pos.Symbol, pos.EntryPrice, pos.Quantity)
	e.cfg.Logger.Info().Msg(msg)
	e.cfg.Notify(msg)

	return pos, nil
}

// pushStop sets the provided stop on the exchange and records it on the position
// once accepted.
func (e *Engine) pushStop(ctx context.Context, pos *position.Position, stop float64, takeProfit float64, kind string) bool {
	err := pos.ValidateStop(stop)
	if err != nil {
		e.cfg.Logger.Error().Msgf("refusing %s stop for %s %s position: %v", kind, pos.Symbol, pos.Side.String(), err)
		metrics.StopUpdates.WithLabelValues(kind, "refused").Inc()
		return false
	}

	err = e.cfg.Exchange.SetStopAndTakeProfit(ctx, shared.StopRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		StopLoss:   stop,
		TakeProfit: takeProfit,
	})
	if err != nil {
		e.cfg.Logger.Error().Msgf("setting %s stop for %s %s position: %v", kind, pos.Symbol, pos.Side.String(), err)
		metrics.StopUpdates.WithLabelValues(kind, "failed").Inc()
		return false
	}

	err = pos.UpdateStop(stop)
	if err != nil {
		e.cfg.Logger.Error().Msgf("recording %s stop for %s %s position: %v", kind, pos.Symbol, pos.Side.String(), err)
		metrics.StopUpdates.WithLabelValues(kind, "refused").Inc()
		return false
	}

	metrics.StopUpdates.WithLabelValues(kind, "accepted").Inc()
	e.cfg.Logger.Info().Msgf("%s stop for %s %s position set to %f", kind, pos.Symbol, pos.Side.String(), stop)

	return true
}

// manage trails the stop of the open position and checks whether it has closed.
func (e *Engine) manage(ctx context.Context, pos *position.Position, price float64) (*position.Position, time.Duration) {
	strategy := &e.cfg.Strategy

	switch pos.Stop {
	case nil:
		// The initial placement failed, retry it with any trailing progress applied.
		stop := position.InitialStop(pos.Side, pos.EntryPrice, strategy.StopLossPercent)
		next, ok := position.TrailingStop(pos.Side, pos.EntryPrice, price, nil,
			strategy.StopLossPercent, strategy.TrailingStepPercent)
		if ok {
			stop = next
		}
		e.pushStop(ctx, pos, stop, pos.TakeProfit, "initial")

	default:
		next, ok := position.TrailingStop(pos.Side, pos.EntryPrice, price, pos.Stop,
			strategy.StopLossPercent, strategy.TrailingStepPercent)
		if ok {
			e.pushStop(ctx, pos, next, 0, "trailing")
		}
	}

	open, err := e.cfg.Exchange.FetchOpenPosition(ctx, pos.Symbol, pos.Side)
	if err != nil {
		e.cfg.Logger.Error().Msgf("confirming %s %s position, assuming open: %v", pos.Symbol, pos.Side.String(), err)
		metrics.TickErrors.WithLabelValues("position").Inc()
		return pos, e.cfg.ManageInterval
	}

	if open.IsOpen() {
		return pos, e.cfg.ManageInterval
	}

	closed := pos.Close(price, e.cfg.Now())
	metrics.PositionsClosed.WithLabelValues(closed.Status.String()).Inc()

	err = e.cfg.PersistClosedPosition(closed)
	if err != nil {
		e.cfg.Logger.Error().Msgf("persisting closed position %s: %v", closed.ID, err)
	}

	msg := fmt.Sprintf("Closed %s position (%s) for %s @ ~%f (%s), pnl %.2f%%",
		closed.Side.String(), closed.ID, closed.Symbol, closed.ExitPrice, closed.Status.String(), closed.PNLPercent)
	e.cfg.Logger.Info().Msg(msg)
	e.cfg.Notify(msg)

	return nil, e.cfg.CloseCooldown
}

// Run drives the engine until the provided context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			// Ticks run detached from cancellation so an entry is never left
			// with an order placed and no stop requested.
			delay := e.Tick(context.WithoutCancel(ctx))

			metrics.PositionOpen.Set(0)
			if e.state() == Open {
				metrics.PositionOpen.Set(1)
			}

			timer.Reset(delay)
		}
	}
}
