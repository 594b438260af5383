// Package redis mirrors the monitor's event stream to Redis, so other
// processes (dashboards, alert routers) can follow the bot live. Delivery
// is best effort: a down Redis degrades to log noise, never to a stalled
// monitoring loop.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: roughly a day of status traffic at 30s polls.
	streamMaxLen     = 20000
	defaultLatestTTL = 30 * time.Minute

	eventStream   = "twicketbot:events"
	openedChannel = "twicketbot:opened"
	latestKey     = "twicketbot:latest_open"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes monitor events to a Redis stream and announces opened
// tickets on PubSub.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run consumes the bus subscription and publishes every event. Blocks until
// ctx is cancelled or the channel is closed.
func (p *Publisher) Run(ctx context.Context, eventCh <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			p.publish(ctx, ev)
		}
	}
}

// publish performs pipelined writes for one event: XADD always, plus
// SET latest + PUBLISH when a ticket was opened.
func (p *Publisher) publish(ctx context.Context, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis] marshal event: %v", err)
		return
	}
	jsonData := string(data)

	pipe := p.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind": string(ev.Kind),
			"data": jsonData,
		},
	})

	if ev.Kind == events.KindTicket && ev.Entry != nil && ev.Entry.Outcome == model.OutcomeOpened {
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, openedChannel, jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] pipeline error for %s event: %v", ev.Kind, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
