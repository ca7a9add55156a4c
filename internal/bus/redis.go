package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// channelPrefix namespaces Pub/Sub channels; the topic follows it.
	channelPrefix = "feedbus:"
	// streamKey is the capped durable stream of published envelopes.
	streamKey = "feedbus:journal"

	connectTimeout = 5 * time.Second
)

// Redis is the cross-process bus. Publish pipelines a Pub/Sub PUBLISH for
// immediate fan-out and an XADD onto a capped stream for durability; one
// background listener consumes the pattern subscription and applies the same
// wildcard matching as the embedded bus. Delivery is at-least-once with no
// cross-process ordering; consumers must be idempotent.
type Redis struct {
	logger *slog.Logger
	client *redis.Client
	pubsub *redis.PubSub
	subs   *subscriptions
	ring   *Ring
	maxLen int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// OpenRedis connects the distributed backend. Connectivity loss at
// construction fails fast rather than degrading silently; the process is
// expected to be supervised and restarted externally.
func OpenRedis(cfg Config, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RingSize < 1 {
		cfg.RingSize = DefaultRingSize
	}
	if cfg.StreamMaxLen < 1 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	ctx, stop := context.WithCancel(context.Background())
	b := &Redis{
		logger: logger,
		client: client,
		pubsub: client.PSubscribe(ctx, channelPrefix+"*"),
		subs:   &subscriptions{},
		ring:   NewRing(cfg.RingSize),
		maxLen: cfg.StreamMaxLen,
		cancel: stop,
	}

	b.wg.Add(1)
	go b.listen(ctx)

	logger.Info("redis bus ready",
		"addr", cfg.Redis.Addr,
		"stream", streamKey,
		"max_len", cfg.StreamMaxLen,
	)
	return b, nil
}

// Publish writes the envelope to its topic channel and the durable stream
// concurrently in one pipeline. Local handlers fire when the message comes
// back through the listener, so local and remote subscribers share one path.
func (b *Redis) Publish(ctx context.Context, env *Envelope) error {
	if b.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Publish(ctx, channelPrefix+env.Topic, data)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"topic":    env.Topic,
			"envelope": string(data),
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", env.Topic, err)
	}
	return nil
}

// Subscribe registers a handler for future envelopes.
func (b *Redis) Subscribe(pattern string, h Handler) string {
	return b.subs.add(pattern, h)
}

// Unsubscribe removes a subscription.
func (b *Redis) Unsubscribe(id string) {
	b.subs.remove(id)
}

// Recent returns the newest envelopes seen by this process.
func (b *Redis) Recent(limit int) []*Envelope {
	return b.ring.Recent(limit)
}

// Replay re-publishes stream entries whose topic starts with prefix through
// the normal publish path. The path argument names a file journal on the
// embedded backend and is ignored here.
func (b *Redis) Replay(ctx context.Context, _ string, prefix string) (int, error) {
	return b.scanStream(ctx, prefix, func(env *Envelope) error {
		return b.Publish(ctx, env)
	})
}

// LoadHistory hydrates only the ring buffer from the stream.
func (b *Redis) LoadHistory(ctx context.Context, _ string, prefix string) (int, error) {
	return b.scanStream(ctx, prefix, func(env *Envelope) error {
		b.ring.Add(env)
		return nil
	})
}

// Close stops the listener and releases the connection.
func (b *Redis) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.cancel()
	b.pubsub.Close()
	b.wg.Wait()
	return b.client.Close()
}

// listen consumes the pattern subscription and dispatches with the shared
// matching logic. Malformed payloads are logged and dropped.
func (b *Redis) listen(ctx context.Context) {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed bus message",
					"channel", msg.Channel,
					"error", err,
				)
				continue
			}
			if env.Topic == "" {
				env.Topic = strings.TrimPrefix(msg.Channel, channelPrefix)
			}

			b.ring.Add(&env)
			dispatch(ctx, &env, b.subs.matching(env.Topic), b.logger, func(errEnv *Envelope) {
				if err := b.Publish(ctx, errEnv); err != nil {
					b.logger.Error("publish system.error failed", "error", err)
				}
			})
		}
	}
}

// scanStream walks the durable stream oldest-first, filtering by topic
// prefix. Entries without a parseable envelope are skipped.
func (b *Redis) scanStream(ctx context.Context, prefix string, fn func(*Envelope) error) (int, error) {
	entries, err := b.client.XRange(ctx, streamKey, "-", "+").Result()
	if err != nil {
		return 0, fmt.Errorf("read stream %s: %w", streamKey, err)
	}

	var delivered int
	for _, entry := range entries {
		raw, ok := entry.Values["envelope"].(string)
		if !ok {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(env.Topic, prefix) {
			continue
		}
		if err := fn(&env); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
