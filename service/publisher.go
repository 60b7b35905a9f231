package service

import (
	"context"

	"github.com/dnldd/trail/notify"
	"github.com/rs/zerolog"
)

// newRedisPublisher creates the redis event publisher for the provided config.
func newRedisPublisher(ctx context.Context, cfg *TraderConfig, logger *zerolog.Logger) (publisher, error) {
	pub, err := notify.NewPublisher(ctx, &notify.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Channel:  cfg.RedisChannel,
		Symbol:   cfg.Strategy.Symbol,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return pub, nil
}
