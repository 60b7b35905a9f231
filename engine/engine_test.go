package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/trail/position"
	"github.com/dnldd/trail/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

func approx(a float64, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

type placedOrder struct {
	side     shared.Side
	quantity float64
}

// mockExchange is an in-memory exchange whose positions are opened by
// accepted market orders.
type mockExchange struct {
	mtx          sync.Mutex
	closes       []shared.PricePoint
	closesErr    error
	closesCalls  int
	price        float64
	priceErr     error
	pricePanic   bool
	positions    map[shared.Side]*shared.OpenPosition
	positionErr  error
	orderErr     error
	rejectOrders bool
	fillPrice    float64
	stopErr      error
	orders       []placedOrder
	stops        []shared.StopRequest
}

func newMockExchange(closes []shared.PricePoint, price float64) *mockExchange {
	return &mockExchange{
		closes:    closes,
		price:     price,
		positions: make(map[shared.Side]*shared.OpenPosition),
	}
}

func (m *mockExchange) FetchRecentCloses(ctx context.Context, symbol string, interval shared.Interval, count int) ([]shared.PricePoint, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.closesCalls++
	if m.closesErr != nil {
		return nil, m.closesErr
	}

	return m.closes, nil
}

func (m *mockExchange) FetchCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.pricePanic {
		panic("price feed exploded")
	}
	if m.priceErr != nil {
		return 0, m.priceErr
	}

	return m.price, nil
}

func (m *mockExchange) FetchOpenPosition(ctx context.Context, symbol string, side shared.Side) (*shared.OpenPosition, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.positionErr != nil {
		return nil, m.positionErr
	}

	pos, ok := m.positions[side]
	if !ok {
		return &shared.OpenPosition{Symbol: symbol, Side: side}, nil
	}

	return pos, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side shared.Side, quantity float64) (*shared.OrderFill, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.orders = append(m.orders, placedOrder{side: side, quantity: quantity})
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	if m.rejectOrders {
		return &shared.OrderFill{Symbol: symbol, Side: side}, nil
	}

	m.positions[side] = &shared.OpenPosition{
		Symbol:     symbol,
		Side:       side,
		Size:       quantity,
		EntryPrice: m.price,
	}

	return &shared.OrderFill{
		OrderID:  fmt.Sprintf("order-%d", len(m.orders)),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    m.fillPrice,
		Accepted: true,
	}, nil
}

func (m *mockExchange) SetStopAndTakeProfit(ctx context.Context, req shared.StopRequest) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.stopErr != nil {
		return m.stopErr
	}

	m.stops = append(m.stops, req)

	return nil
}

func (m *mockExchange) setPrice(price float64) {
	m.mtx.Lock()
	m.price = price
	m.mtx.Unlock()
}

func (m *mockExchange) closePosition(side shared.Side) {
	m.mtx.Lock()
	delete(m.positions, side)
	m.mtx.Unlock()
}

// trendingCloses returns a series of closes moving by the provided step.
func trendingCloses(count int, start float64, step float64) []shared.PricePoint {
	points := make([]shared.PricePoint, count)
	for idx := range points {
		points[idx] = shared.PricePoint{
			Timestamp: int64(idx) * 60000,
			Close:     start + float64(idx)*step,
		}
	}

	return points
}

// choppyCloses returns a series of closes alternating around a level.
func choppyCloses(count int) []shared.PricePoint {
	points := make([]shared.PricePoint, count)
	for idx := range points {
		close := float64(100)
		if idx%2 == 1 {
			close = 101
		}
		points[idx] = shared.PricePoint{Timestamp: int64(idx) * 60000, Close: close}
	}

	return points
}

func testStrategy() shared.StrategyConfig {
	return shared.StrategyConfig{
		Symbol:              "BTCUSDT",
		Capital:             1000,
		StopLossPercent:     5,
		TakeProfitPercent:   10,
		TrailingStepPercent: 2,
		LongThreshold:       30,
		ShortThreshold:      70,
		Interval:            shared.OneMinute,
		RSIPeriod:           shared.DefaultRSIPeriod,
		CandleLimit:         shared.DefaultCandleLimit,
	}
}

type engineHarness struct {
	engine   *Engine
	exchange *mockExchange
	notified []string
	closed   []*position.ClosedPosition
}

func setupEngine(t *testing.T, ex *mockExchange) *engineHarness {
	h := &engineHarness{exchange: ex}

	now := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	cfg := &EngineConfig{
		Strategy: testStrategy(),
		Exchange: ex,
		Notify: func(message string) {
			h.notified = append(h.notified, message)
		},
		PersistClosedPosition: func(pos *position.ClosedPosition) error {
			h.closed = append(h.closed, pos)
			return nil
		},
		Now:    func() time.Time { return now },
		Logger: &log.Logger,
	}

	eng, err := NewEngine(cfg)
	assert.NoError(t, err)
	h.engine = eng

	return h
}

func TestEvaluateEntry(t *testing.T) {
	tests := []struct {
		name     string
		rsi      float64
		long     float64
		short    float64
		wantSide shared.Side
		wantOk   bool
	}{
		{
			name:     "oversold signals long",
			rsi:      25,
			long:     30,
			short:    70,
			wantSide: shared.Long,
			wantOk:   true,
		},
		{
			name:     "overbought signals short",
			rsi:      75,
			long:     30,
			short:    70,
			wantSide: shared.Short,
			wantOk:   true,
		},
		{
			name:   "neutral signals nothing",
			rsi:    50,
			long:   30,
			short:  70,
			wantOk: false,
		},
		{
			name:   "long threshold is exclusive",
			rsi:    30,
			long:   30,
			short:  70,
			wantOk: false,
		},
		{
			name:   "short threshold is exclusive",
			rsi:    70,
			long:   30,
			short:  70,
			wantOk: false,
		},
		{
			name:     "long wins on overlapping thresholds",
			rsi:      50,
			long:     60,
			short:    40,
			wantSide: shared.Long,
			wantOk:   true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			side, ok := EvaluateEntry(test.rsi, test.long, test.short)
			assert.Equal(t, ok, test.wantOk)
			if test.wantOk {
				assert.Equal(t, side, test.wantSide)
			}
		})
	}
}

func TestEngineConfigValidate(t *testing.T) {
	valid := func() *EngineConfig {
		return &EngineConfig{
			Strategy:              testStrategy(),
			Exchange:              newMockExchange(nil, 100),
			Notify:                func(string) {},
			PersistClosedPosition: func(*position.ClosedPosition) error { return nil },
			Logger:                &log.Logger,
		}
	}

	tests := []struct {
		name    string
		modify  func(cfg *EngineConfig)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(cfg *EngineConfig) {},
			wantErr: false,
		},
		{
			name:    "invalid strategy",
			modify:  func(cfg *EngineConfig) { cfg.Strategy.Capital = 0 },
			wantErr: true,
		},
		{
			name:    "nil exchange",
			modify:  func(cfg *EngineConfig) { cfg.Exchange = nil },
			wantErr: true,
		},
		{
			name:    "nil notify",
			modify:  func(cfg *EngineConfig) { cfg.Notify = nil },
			wantErr: true,
		},
		{
			name:    "nil persist closed position",
			modify:  func(cfg *EngineConfig) { cfg.PersistClosedPosition = nil },
			wantErr: true,
		},
		{
			name:    "negative interval",
			modify:  func(cfg *EngineConfig) { cfg.ManageInterval = -time.Second },
			wantErr: true,
		},
		{
			name:    "nil logger",
			modify:  func(cfg *EngineConfig) { cfg.Logger = nil },
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid()
			test.modify(cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewEngineDefaults(t *testing.T) {
	h := setupEngine(t, newMockExchange(nil, 100))

	// Ensure unset intervals fall back to the defaults.
	assert.Equal(t, h.engine.cfg.ScanInterval, DefaultScanInterval)
	assert.Equal(t, h.engine.cfg.ManageInterval, DefaultManageInterval)
	assert.Equal(t, h.engine.cfg.CloseCooldown, DefaultCloseCooldown)
	assert.Equal(t, h.engine.cfg.RetryInterval, DefaultRetryInterval)

	// Ensure the engine starts flat.
	assert.Equal(t, h.engine.Snapshot().State, Flat)
	assert.True(t, h.engine.position == nil)

	// Ensure an invalid config is rejected.
	_, err := NewEngine(&EngineConfig{})
	assert.Error(t, err)
}

func TestTickPriceFailure(t *testing.T) {
	ex := newMockExchange(trendingCloses(50, 200, -1), 100)
	ex.priceErr = fmt.Errorf("%w: ticker unavailable", shared.ErrDataUnavailable)
	h := setupEngine(t, ex)

	// Ensure a failed price fetch skips the tick with the retry delay.
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultRetryInterval)
	assert.Equal(t, ex.closesCalls, 0)
	assert.Equal(t, len(ex.orders), 0)

	// Ensure an unusable price is treated the same way.
	ex.priceErr = nil
	ex.setPrice(0)
	delay = h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultRetryInterval)
	assert.Equal(t, len(ex.orders), 0)
}

func TestTickRSIUnavailable(t *testing.T) {
	ex := newMockExchange(trendingCloses(10, 200, -1), 100)
	h := setupEngine(t, ex)

	// Ensure insufficient history yields no entry.
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 0)
	assert.False(t, h.engine.Snapshot().RSIAvailable)

	// Ensure a failed history fetch yields no entry.
	ex.closesErr = errors.New("kline request timed out")
	delay = h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 0)
	assert.True(t, h.engine.position == nil)
}

func TestTickNoSignal(t *testing.T) {
	ex := newMockExchange(choppyCloses(60), 100)
	h := setupEngine(t, ex)

	// Ensure a neutral rsi does not open a position.
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 0)
	assert.True(t, h.engine.position == nil)

	snap := h.engine.Snapshot()
	assert.True(t, snap.RSIAvailable)
	assert.GreaterThan(t, snap.LastRSI, float64(30))
	assert.LessThan(t, snap.LastRSI, float64(70))
}

func TestTickOpensLong(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	h := setupEngine(t, ex)

	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)

	// Ensure a long market order sized from capital was placed.
	assert.Equal(t, len(ex.orders), 1)
	assert.Equal(t, ex.orders[0].side, shared.Long)
	assert.Equal(t, ex.orders[0].quantity, float64(10))

	// Ensure the initial stop and take profit were requested.
	assert.Equal(t, len(ex.stops), 1)
	assert.Equal(t, ex.stops[0].Side, shared.Long)
	assert.True(t, approx(ex.stops[0].StopLoss, 95))
	assert.True(t, approx(ex.stops[0].TakeProfit, 110))

	// Ensure the position is tracked with its confirmed stop.
	pos := h.engine.position
	assert.True(t, pos != nil)
	assert.Equal(t, pos.Side, shared.Long)
	assert.Equal(t, pos.EntryPrice, float64(100))
	assert.True(t, approx(pos.StopValue(), 95))
	assert.Equal(t, len(h.notified), 1)

	snap := h.engine.Snapshot()
	assert.Equal(t, snap.State, Open)
	assert.Equal(t, snap.Side, shared.Long)
	assert.True(t, approx(snap.Stop, 95))
}

func TestTickOpensShortAtFillPrice(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 100, 1), 100)
	ex.fillPrice = 100.5
	h := setupEngine(t, ex)

	h.engine.Tick(context.Background())

	// Ensure a short was opened at the reported fill price.
	assert.Equal(t, len(ex.orders), 1)
	assert.Equal(t, ex.orders[0].side, shared.Short)

	pos := h.engine.position
	assert.True(t, pos != nil)
	assert.Equal(t, pos.Side, shared.Short)
	assert.Equal(t, pos.EntryPrice, 100.5)
	assert.True(t, approx(pos.StopValue(), 100.5*1.05))
	assert.True(t, approx(pos.TakeProfit, 100.5*0.9))
}

func TestTickEntryGatedByExchangePosition(t *testing.T) {
	// Ensure an existing exchange position blocks the entry.
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.positions[shared.Long] = &shared.OpenPosition{Symbol: "BTCUSDT", Side: shared.Long, Size: 2}
	h := setupEngine(t, ex)

	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 0)
	assert.True(t, h.engine.position == nil)

	// Ensure a failed position check blocks the entry.
	ex = newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.positionErr = errors.New("position endpoint unavailable")
	h = setupEngine(t, ex)

	delay = h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 0)
	assert.True(t, h.engine.position == nil)
}

func TestTickOrderRejected(t *testing.T) {
	// Ensure a failed order leaves the engine flat.
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.orderErr = fmt.Errorf("%w: insufficient margin", shared.ErrOrderRejected)
	h := setupEngine(t, ex)

	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultScanInterval)
	assert.Equal(t, len(ex.orders), 1)
	assert.Equal(t, len(ex.stops), 0)
	assert.True(t, h.engine.position == nil)
	assert.Equal(t, len(h.notified), 0)

	// Ensure an unaccepted order leaves the engine flat.
	ex = newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.rejectOrders = true
	h = setupEngine(t, ex)

	h.engine.Tick(context.Background())
	assert.Equal(t, len(ex.orders), 1)
	assert.True(t, h.engine.position == nil)
}

func TestTickRetriesInitialStop(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.stopErr = errors.New("stop endpoint unavailable")
	h := setupEngine(t, ex)

	// Ensure a failed stop placement keeps the position with no stop.
	h.engine.Tick(context.Background())
	pos := h.engine.position
	assert.True(t, pos != nil)
	assert.True(t, pos.Stop == nil)

	// Ensure the next open tick retries the initial stop and take profit.
	ex.stopErr = nil
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultManageInterval)
	assert.Equal(t, len(ex.stops), 1)
	assert.True(t, approx(ex.stops[0].StopLoss, 95))
	assert.True(t, approx(ex.stops[0].TakeProfit, 110))
	assert.True(t, approx(h.engine.position.StopValue(), 95))
}

func TestTickRetriedStopIncludesTrailingProgress(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.stopErr = errors.New("stop endpoint unavailable")
	h := setupEngine(t, ex)

	h.engine.Tick(context.Background())
	assert.True(t, h.engine.position.Stop == nil)

	// Ensure the retried stop takes any trailing progress into account.
	ex.stopErr = nil
	ex.setPrice(104)
	h.engine.Tick(context.Background())
	assert.Equal(t, len(ex.stops), 1)
	assert.True(t, approx(ex.stops[0].StopLoss, 102))
	assert.True(t, approx(h.engine.position.StopValue(), 102))
}

func TestTickTrailsLongStop(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	h := setupEngine(t, ex)

	h.engine.Tick(context.Background())
	assert.True(t, approx(h.engine.position.StopValue(), 95))
	closesCalls := ex.closesCalls

	// Ensure sub-step profit does not move the stop.
	ex.setPrice(101)
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultManageInterval)
	assert.Equal(t, len(ex.stops), 1)

	// Ensure the first full step moves the stop to the entry price.
	ex.setPrice(102)
	h.engine.Tick(context.Background())
	assert.Equal(t, len(ex.stops), 2)
	assert.True(t, approx(ex.stops[1].StopLoss, 100))
	assert.Equal(t, ex.stops[1].TakeProfit, float64(0))

	// Ensure the second step locks in one step of profit.
	ex.setPrice(104)
	h.engine.Tick(context.Background())
	assert.Equal(t, len(ex.stops), 3)
	assert.True(t, approx(ex.stops[2].StopLoss, 102))
	assert.True(t, approx(h.engine.position.StopValue(), 102))

	// Ensure a retrace never loosens the stop.
	ex.setPrice(101)
	h.engine.Tick(context.Background())
	assert.Equal(t, len(ex.stops), 3)
	assert.True(t, approx(h.engine.position.StopValue(), 102))

	// Ensure no rsi was evaluated while open.
	assert.Equal(t, ex.closesCalls, closesCalls)
}

func TestTickDetectsClose(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	h := setupEngine(t, ex)

	h.engine.Tick(context.Background())
	assert.True(t, h.engine.position != nil)
	id := h.engine.position.ID

	// Ensure a failed status check keeps the position open.
	ex.positionErr = errors.New("position endpoint unavailable")
	ex.setPrice(94)
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultManageInterval)
	assert.True(t, h.engine.position != nil)

	// Ensure a zero size position returns the engine to flat with a cooldown.
	ex.positionErr = nil
	ex.closePosition(shared.Long)
	delay = h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultCloseCooldown)
	assert.True(t, h.engine.position == nil)
	assert.Equal(t, h.engine.Snapshot().State, Flat)

	// Ensure the closed position was persisted and notified.
	assert.Equal(t, len(h.closed), 1)
	assert.Equal(t, h.closed[0].ID, id)
	assert.Equal(t, h.closed[0].Status, position.StoppedOut)
	assert.Equal(t, h.closed[0].ExitPrice, float64(94))
	assert.Equal(t, len(h.notified), 2)

	// Ensure scanning resumes after the close.
	closesCalls := ex.closesCalls
	h.engine.Tick(context.Background())
	assert.Equal(t, ex.closesCalls, closesCalls+1)
}

func TestTickRecoversPanic(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	ex.pricePanic = true
	h := setupEngine(t, ex)

	// Ensure a panicking collaborator is recovered into a retry delay.
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultRetryInterval)
	assert.True(t, h.engine.position == nil)
}

func TestTickKeepsPositionWhenNotifyPanics(t *testing.T) {
	ex := newMockExchange(trendingCloses(60, 200, -1), 100)
	h := setupEngine(t, ex)
	h.engine.cfg.Notify = func(string) { panic("notifier down") }

	// Ensure a failing open notification neither orphans the fill nor skips
	// the protective stop.
	delay := h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultRetryInterval)
	assert.Equal(t, len(ex.orders), 1)
	assert.Equal(t, len(ex.stops), 1)
	assert.True(t, approx(ex.stops[0].StopLoss, 95))

	pos := h.engine.position
	assert.True(t, pos != nil)
	assert.True(t, approx(pos.StopValue(), 95))

	// Ensure the next tick manages the tracked position instead of entering again.
	delay = h.engine.Tick(context.Background())
	assert.Equal(t, delay, DefaultManageInterval)
	assert.Equal(t, len(ex.orders), 1)
	assert.True(t, h.engine.position == pos)
}

func TestRun(t *testing.T) {
	ex := newMockExchange(choppyCloses(60), 100)
	h := setupEngine(t, ex)
	h.engine.cfg.ScanInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()

	// Ensure the engine ticks repeatedly until cancelled.
	deadline := time.Now().Add(time.Second * 2)
	for {
		ex.mtx.Lock()
		calls := ex.closesCalls
		ex.mtx.Unlock()
		if calls >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("engine did not stop after cancellation")
	}

	assert.GreaterThanOrEqual(t, ex.closesCalls, 3)
}
