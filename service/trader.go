package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dnldd/trail/database"
	"github.com/dnldd/trail/engine"
	"github.com/dnldd/trail/fetch"
	"github.com/dnldd/trail/paper"
	"github.com/dnldd/trail/position"
	"github.com/dnldd/trail/shared"
	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// minHeartbeatInterval is the shortest supported heartbeat interval.
	minHeartbeatInterval = time.Second
	// persistTimeout bounds persisting a closed position.
	persistTimeout = time.Second * 10
	// shutdownTimeout bounds the metrics server shutdown.
	shutdownTimeout = time.Second * 5
)

// TraderConfig represents the configuration struct for the trader service.
type TraderConfig struct {
	// Strategy represents the strategy parameters of the run.
	Strategy shared.StrategyConfig
	// BaseURL is the exchange api base url.
	BaseURL string
	// DatabaseEndpoint is the trade journal endpoint, journaling is disabled when empty.
	DatabaseEndpoint string
	// DatabaseUser is the trade journal user.
	DatabaseUser string
	// DatabasePass is the trade journal user pass.
	DatabasePass string
	// RedisAddr is the redis address, event publishing is disabled when empty.
	RedisAddr string
	// RedisPassword is the redis password.
	RedisPassword string
	// RedisChannel is the channel position events are published to.
	RedisChannel string
	// MetricsAddr is the metrics server address, metrics are not served when empty.
	MetricsAddr string
	// HeartbeatInterval is the interval the engine state is logged at.
	HeartbeatInterval time.Duration
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *TraderConfig) Validate() error {
	var errs error

	if err := cfg.Strategy.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("base url cannot be an empty string"))
	}
	if cfg.RedisAddr != "" && cfg.RedisChannel == "" {
		errs = errors.Join(errs, fmt.Errorf("redis channel cannot be an empty string"))
	}
	if cfg.HeartbeatInterval < minHeartbeatInterval {
		errs = errors.Join(errs, fmt.Errorf("heartbeat interval must be at least %s", minHeartbeatInterval))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// exchange pairs live market data with simulated execution.
type exchange struct {
	*fetch.BybitClient
	*paper.Broker
}

// Ensure the exchange implements the Exchange interface.
var _ shared.Exchange = (*exchange)(nil)

// publisher defines the requirements for the event publisher.
type publisher interface {
	Notify(message string)
	Run(ctx context.Context)
}

// Trader represents the rsi trading service.
type Trader struct {
	cfg           *TraderConfig
	engine        *engine.Engine
	broker        *paper.Broker
	journal       database.PositionStorer
	publisher     publisher
	jobScheduler  *gocron.Scheduler
	metricsServer *http.Server
	logger        *zerolog.Logger
	wg            sync.WaitGroup
}

// NewTrader initializes a new trader service.
func NewTrader(ctx context.Context, cfg *TraderConfig) (*Trader, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating trader config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "trader").Logger()

	t := &Trader{
		cfg:    cfg,
		logger: &logger,
	}

	fetchLogger := logger.With().Str("component", "bybit").Logger()
	bybit, err := fetch.NewBybitClient(&fetch.BybitConfig{
		BaseURL: cfg.BaseURL,
		Logger:  &fetchLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bybit client: %v", err)
	}

	brokerLogger := logger.With().Str("component", "paperbroker").Logger()
	t.broker, err = paper.NewBroker(&paper.BrokerConfig{
		Prices: bybit,
		Logger: &brokerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating paper broker: %v", err)
	}

	if cfg.DatabaseEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		t.journal, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DatabaseEndpoint,
			User:     cfg.DatabaseUser,
			Pass:     cfg.DatabasePass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating database: %v", err)
		}
	}

	if cfg.RedisAddr != "" {
		publisherLogger := logger.With().Str("component", "publisher").Logger()
		t.publisher, err = newRedisPublisher(ctx, cfg, &publisherLogger)
		if err != nil {
			return nil, fmt.Errorf("creating publisher: %v", err)
		}
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	t.engine, err = engine.NewEngine(&engine.EngineConfig{
		Strategy: cfg.Strategy,
		Exchange: &exchange{
			BybitClient: bybit,
			Broker:      t.broker,
		},
		Notify:                t.notify,
		PersistClosedPosition: t.persistClosedPosition,
		Logger:                &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %v", err)
	}

	t.jobScheduler = gocron.NewScheduler(time.UTC)
	_, err = t.jobScheduler.Every(cfg.HeartbeatInterval).Do(t.heartbeat)
	if err != nil {
		return nil, fmt.Errorf("scheduling heartbeat job: %v", err)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		t.metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 5,
		}
	}

	return t, nil
}

// notify relays the provided message to the configured publisher.
func (t *Trader) notify(message string) {
	if t.publisher != nil {
		t.publisher.Notify(message)
	}
}

// persistClosedPosition records the provided closed position to the configured journal.
func (t *Trader) persistClosedPosition(pos *position.ClosedPosition) error {
	if t.journal == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	return t.journal.PersistClosedPosition(ctx, pos)
}

// heartbeatMessage describes the provided engine snapshot.
func heartbeatMessage(symbol string, snap engine.Snapshot, fills uint64) string {
	rsi := "n/a"
	if snap.RSIAvailable {
		rsi = fmt.Sprintf("%.2f", snap.LastRSI)
	}

	if snap.State == engine.Flat {
		return fmt.Sprintf("%s flat, last price %f, last rsi %s, paper fills %d",
			symbol, snap.LastPrice, rsi, fills)
	}

	stop := "unset"
	if snap.Stop > 0 {
		stop = fmt.Sprintf("%f", snap.Stop)
	}

	return fmt.Sprintf("%s %s position open, entry %f, stop %s, take profit %f, last price %f, paper fills %d",
		symbol, snap.Side.String(), snap.EntryPrice, stop, snap.TakeProfit, snap.LastPrice, fills)
}

// heartbeat logs the current engine state.
func (t *Trader) heartbeat() {
	t.logger.Info().Msg(heartbeatMessage(t.cfg.Strategy.Symbol, t.engine.Snapshot(), t.broker.Fills()))
}

// logStartup logs the configuration of the run.
func (t *Trader) logStartup() {
	strategy := &t.cfg.Strategy
	t.logger.Info().Msgf("starting trader for %s on %s candles: capital %f, stop loss %.2f%%, "+
		"take profit %.2f%%, trailing step %.2f%%, rsi(%d) long < %.2f, short > %.2f",
		strategy.Symbol, strategy.Interval.String(), strategy.Capital, strategy.StopLossPercent,
		strategy.TakeProfitPercent, strategy.TrailingStepPercent, strategy.RSIPeriod,
		strategy.LongThreshold, strategy.ShortThreshold)
	t.logger.Info().Msgf("exchange %s, journal enabled: %v, publisher enabled: %v, metrics enabled: %v",
		t.cfg.BaseURL, t.journal != nil, t.publisher != nil, t.metricsServer != nil)
}

// Run handles the lifecycle processes of the trader service.
func (t *Trader) Run(ctx context.Context) {
	t.logStartup()

	t.jobScheduler.StartAsync()

	if t.metricsServer != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()

			err := t.metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Error().Msgf("serving metrics: %v", err)
				t.cfg.Cancel()
			}
		}()
	}

	// The publisher outlives the engine so messages from a tick in flight at
	// shutdown are still delivered.
	pubCtx, pubCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pubCancel()

	if t.publisher != nil {
		t.wg.Add(1)
		go func() {
			t.publisher.Run(pubCtx)
			t.wg.Done()
		}()
	}

	engineDone := make(chan struct{})
	go func() {
		t.engine.Run(ctx)
		close(engineDone)
	}()

	<-ctx.Done()

	t.jobScheduler.Stop()

	if t.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := t.metricsServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			t.logger.Error().Msgf("shutting down metrics server: %v", err)
		}
	}

	<-engineDone
	pubCancel()

	t.wg.Wait()

	t.logger.Info().Msgf("trader for %s stopped", t.cfg.Strategy.Symbol)
}
