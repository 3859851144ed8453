package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlasterm/ezod/ezo"
	"github.com/atlasterm/ezod/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Record is one published measurement
type Record struct {
	Session     string    `json:"session"`
	ProbeType   string    `json:"probe_type"`
	Value       ezo.Value `json:"value"`
	Temperature ezo.Value `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRecord builds a Record from a MeasurementChanged event
func NewRecord(session string, ev ezo.Event, now time.Time) *Record {
	return &Record{
		Session:     session,
		ProbeType:   ev.Props.ProbeType,
		Value:       ev.Props.Measurement(),
		Temperature: ev.Props.CurrentTemperature,
		Timestamp:   now,
	}
}

// ListKey is the Redis list holding the history of a session
func ListKey(session string) string {
	return fmt.Sprintf("ezo:%s:data", session)
}

// Publisher sends measurements to a Redis channel and keeps a bounded
// history list per session
type Publisher struct {
	client  *redis.Client
	channel string
	history int64
	session func() string
	queue   chan *Record
}

const queueSize = 64

// NewPublisher connects to Redis. session returns the current device session id.
func NewPublisher(cfg config.RedisConfig, session func() string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %v: %w", cfg.Addr, err)
	}
	log.Infof("Connected to redis at %v", cfg.Addr)

	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		history: cfg.History,
		session: session,
		queue:   make(chan *Record, queueSize),
	}, nil
}

// Handle is an ezo.Handler queueing measurements. It never blocks the
// device reader; records are dropped when the queue is full.
func (p *Publisher) Handle(ev ezo.Event) {
	if ev.Kind != ezo.MeasurementChanged {
		return
	}
	select {
	case p.queue <- NewRecord(p.session(), ev, time.Now()):
	default:
		log.Warnf("Redis queue full, dropping measurement")
	}
}

// Run publishes queued records until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			if err := p.Publish(ctx, rec); err != nil {
				log.Errorf("Publishing measurement: %v", err)
			}
		}
	}
}

// Publish sends rec to the channel and pushes it to the session history
func (p *Publisher) Publish(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %v: %w", p.channel, err)
	}

	if p.history > 0 {
		key := ListKey(rec.Session)
		pipe := p.client.Pipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, p.history-1)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warnf("Saving history to %v: %v", key, err)
		}
	}
	return nil
}

// Close closes the redis client
func (p *Publisher) Close() error {
	return p.client.Close()
}
