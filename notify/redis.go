package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for the event channel.
	bufferSize = 32
	// publishTimeout bounds a single publish.
	publishTimeout = time.Second * 3
	// pingTimeout bounds the startup connectivity check.
	pingTimeout = time.Second * 5
)

// redisClient defines the redis capabilities the publisher depends on.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// PublisherConfig represents the configuration for the event publisher.
type PublisherConfig struct {
	// Addr is the redis server address.
	Addr string
	// Password is the redis password.
	Password string
	// DB is the redis database.
	DB int
	// Channel is the pub/sub channel events are published to.
	Channel string
	// Symbol is the traded symbol events are tagged with.
	Symbol string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *PublisherConfig) Validate() error {
	var errs error

	if cfg.Addr == "" {
		errs = errors.Join(errs, fmt.Errorf("redis address cannot be an empty string"))
	}
	if cfg.DB < 0 {
		errs = errors.Join(errs, fmt.Errorf("redis db cannot be negative"))
	}
	if cfg.Channel == "" {
		errs = errors.Join(errs, fmt.Errorf("channel cannot be an empty string"))
	}
	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Event represents a published position event.
type Event struct {
	Symbol  string    `json:"symbol"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Publisher fans position events out over redis pub/sub.
type Publisher struct {
	cfg    *PublisherConfig
	client redisClient
	events chan Event
	now    func() time.Time
}

// NewPublisher initializes a new event publisher and checks the redis connection.
func NewPublisher(ctx context.Context, cfg *PublisherConfig) (*Publisher, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating publisher config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}

	return newPublisher(cfg, client), nil
}

// newPublisher initializes a publisher over the provided client.
func newPublisher(cfg *PublisherConfig, client redisClient) *Publisher {
	return &Publisher{
		cfg:    cfg,
		client: client,
		events: make(chan Event, bufferSize),
		now:    time.Now,
	}
}

// Notify queues the provided message for publishing.
func (p *Publisher) Notify(message string) {
	evt := Event{
		Symbol:  p.cfg.Symbol,
		Message: message,
		Time:    p.now().UTC(),
	}

	select {
	case p.events <- evt:
		// do nothing.
	default:
		p.cfg.Logger.Error().Msgf("event channel at capacity: %d/%d", len(p.events), bufferSize)
	}
}

// publish sends the provided event to the configured channel.
func (p *Publisher) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.client.Publish(ctx, p.cfg.Channel, data).Err()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.cfg.Channel, err)
	}

	return nil
}

// drain publishes the events still queued at shutdown.
func (p *Publisher) drain() {
	for {
		select {
		case evt := <-p.events:
			err := p.publish(context.Background(), evt)
			if err != nil {
				p.cfg.Logger.Error().Msgf("publishing queued event: %v", err)
			}
		default:
			return
		}
	}
}

// Run manages the lifecycle processes of the publisher.
//
// Queued events are flushed and the redis connection closed once the
// context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()

			err := p.client.Close()
			if err != nil {
				p.cfg.Logger.Error().Msgf("closing redis client: %v", err)
			}

			return

		case evt := <-p.events:
			err := p.publish(ctx, evt)
			if err != nil {
				p.cfg.Logger.Error().Msgf("publishing event: %v", err)
			}
		}
	}
}
