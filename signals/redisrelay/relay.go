package redisrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

// Config for the relay. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Stream key records are appended to. ENV: VSERVER_SIGNAL_STREAM
	Stream string `env:"VSERVER_SIGNAL_STREAM,default=vserver:signals"`
	// MaxLen is the approximate stream length kept. ENV: VSERVER_SIGNAL_STREAM_MAXLEN
	MaxLen int64 `env:"VSERVER_SIGNAL_STREAM_MAXLEN,default=10000"`
	// QueueSize bounds signals waiting to be written. ENV: VSERVER_SIGNAL_QUEUE
	QueueSize int `env:"VSERVER_SIGNAL_QUEUE,default=1024"`
	// Client overrides RedisAddr with an existing client.
	Client redis.UniversalClient `env:"-"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay appends signals to and reads them back from a Redis stream.
type Relay struct {
	client    redis.UniversalClient
	stream    string
	maxLen    int64
	queueSize int
	log       *slog.Logger
	now       func() time.Time
}

// New connects (or reuses cfg.Client) and verifies the connection with PING.
func New(cfg Config, opts ...Option) (*Relay, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r := &Relay{
		client:    client,
		stream:    cfg.Stream,
		maxLen:    cfg.MaxLen,
		queueSize: cfg.QueueSize,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	if r.stream == "" {
		r.stream = "vserver:signals"
	}
	if r.queueSize <= 0 {
		r.queueSize = 1024
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// NewFromEnv builds a Relay using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Relay, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode relay config: %w", err)
	}
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (r *Relay) Close() error { return r.client.Close() }

// Stream returns the stream key.
func (r *Relay) Stream() string { return r.stream }

// Append encodes sig and adds it to the stream, returning the entry id.
func (r *Relay) Append(ctx context.Context, sig signals.Signal) (string, error) {
	rec, err := NewRecord(sig, r.now().UnixMilli())
	if err != nil {
		return "", err
	}
	data, err := rec.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	args := &redis.XAddArgs{Stream: r.stream, Values: map[string]interface{}{"d": data}}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return id, nil
}

// Forward subscribes to every signal on bus and appends it to the stream
// from a background goroutine. The goroutine exits, and the subscription is
// removed, when ctx is done.
func (r *Relay) Forward(ctx context.Context, bus *signals.Bus) *signals.Subscription {
	queue := make(chan signals.Signal, r.queueSize)
	done := make(chan struct{})

	sub := bus.Subscribe(func(sig signals.Signal) {
		select {
		case <-done:
		case queue <- sig:
		default:
			r.log.Warn("redisrelay.queue.full", slog.String("signal", fmt.Sprintf("%T", sig)))
		}
	})

	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-queue:
				if _, err := r.Append(ctx, sig); err != nil {
					if ctx.Err() != nil {
						return
					}
					r.log.ErrorContext(ctx, "redisrelay.append.fail", slog.String("err", err.Error()))
				}
			}
		}
	}()

	return sub
}

// Tail reads records after lastID and passes them to fn in order until ctx is
// done or fn returns an error. An empty lastID starts from new records only.
func (r *Relay) Tail(ctx context.Context, lastID string, fn func(ctx context.Context, rec Record) error) error {
	start := lastID
	if start == "" {
		start = "$"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := r.client.XRead(ctx, &redis.XReadArgs{Streams: []string{r.stream, start}, Count: 16, Block: 500 * time.Millisecond}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				r.log.WarnContext(ctx, "redisrelay.record.invalid", slog.String("id", m.ID))
				continue
			}
			rec, err := UnmarshalRecord(payload)
			if err != nil {
				r.log.WarnContext(ctx, "redisrelay.record.decode.fail", slog.String("id", m.ID), slog.String("err", err.Error()))
				continue
			}
			rec.ID = m.ID
			if err := fn(ctx, rec); err != nil {
				return err
			}
		}
	}
}
