package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dnldd/trail/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)
	defer signal.Stop(interrupt)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case sig := <-interrupt:
			log.Info().Msgf("received %s, shutting down", sig.String())
			cancel()
		}
	}
}

// setupLogger configures the application logger.
func setupLogger(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func main() {
	setupLogger(zerolog.InfoLevel)

	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Error().Msgf("loading config: %v", err)
		os.Exit(1)
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	setupLogger(level)

	strategy, err := cfg.StrategyConfig()
	if err != nil {
		log.Error().Msgf("creating strategy config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traderCfg := service.TraderConfig{
		Strategy:          strategy,
		BaseURL:           cfg.BaseURL,
		DatabaseEndpoint:  cfg.DBEndpoint,
		DatabaseUser:      cfg.DBUser,
		DatabasePass:      cfg.DBPass,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPass,
		RedisChannel:      cfg.RedisChannel,
		MetricsAddr:       cfg.MetricsAddr,
		HeartbeatInterval: cfg.Heartbeat,
		Cancel:            cancel,
	}
	trader, err := service.NewTrader(ctx, &traderCfg)
	if err != nil {
		log.Error().Msgf("creating trader service: %v", err)
		cancel()
		os.Exit(1)
	}

	go handleTermination(ctx, cancel)
	trader.Run(ctx)
}
