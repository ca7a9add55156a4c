package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Errors
var (
	ErrClosed = errors.New("bus closed")
)

// Defaults for optional Config fields.
const (
	DefaultRingSize     = 500
	DefaultStreamMaxLen = 10000
)

// Handler consumes one envelope. A returned error (or a panic) is converted
// by the bus into a single system.error envelope; it never aborts delivery
// to other subscribers and never propagates to the publisher.
type Handler func(ctx context.Context, env *Envelope) error

// Bus is the process-wide publish/subscribe handle. Application code holds
// exactly one Bus, constructed at the entry point and passed down.
type Bus interface {
	// Publish delivers an envelope to every subscription whose pattern
	// matches the topic, recording it in the ring buffer and durable log.
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe registers a handler for a topic pattern. Only future
	// publishes are affected. Returns a subscription ID for Unsubscribe.
	// Handlers run inline on the publishing (or listener) goroutine and
	// are not serialized across publishers: concurrent publishers invoke
	// the same handler concurrently, so handlers must be safe for
	// concurrent use.
	Subscribe(pattern string, h Handler) string

	// Unsubscribe removes a subscription. Unknown IDs are no-ops.
	Unsubscribe(id string)

	// Recent returns up to limit of the newest envelopes in publish order.
	Recent(limit int) []*Envelope

	// Replay re-publishes logged envelopes whose topic starts with prefix
	// through the normal publish path, re-triggering handlers. The source
	// is a journal file path for the embedded backend; the Redis backend
	// reads its stream and ignores the path.
	Replay(ctx context.Context, path, prefix string) (int, error)

	// LoadHistory hydrates only the ring buffer from the durable log,
	// bypassing persistence and handlers. Used at restart for context
	// recovery without side effects.
	LoadHistory(ctx context.Context, path, prefix string) (int, error)

	// Close releases the backend. Publish after Close returns ErrClosed.
	Close() error
}

// Config selects and tunes the bus backend.
type Config struct {
	Mode         string      // "embedded", "distributed", or "" to infer from Redis.Addr
	JournalPath  string      // embedded durable log ("" disables journaling)
	RingSize     int         // ring buffer capacity
	Redis        RedisConfig // distributed backend
	StreamMaxLen int64       // capped stream length for the distributed backend
}

// RedisConfig holds the distributed backend connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Open constructs the configured backend. The distributed backend is
// selected whenever a Redis address is configured (or Mode forces it) and
// fails fast when the store is unreachable; otherwise the embedded bus is
// returned so application code never branches on deployment mode.
func Open(cfg Config, logger *slog.Logger) (Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	distributed := cfg.Mode == "distributed" || (cfg.Mode == "" && cfg.Redis.Addr != "")
	if distributed {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("distributed bus requires a redis address")
		}
		return OpenRedis(cfg, logger)
	}
	return NewEmbedded(cfg, logger)
}

// subscription binds one pattern to one handler.
type subscription struct {
	id      string
	pattern string
	handler Handler
}

// subscriptions is the shared registry used by both backends. Matching is
// evaluated per publish against a snapshot taken in registration order, so
// subscriptions may be added and removed freely at runtime.
type subscriptions struct {
	mu   sync.RWMutex
	subs []subscription
}

func (s *subscriptions) add(pattern string, h Handler) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: id, pattern: pattern, handler: h})
	s.mu.Unlock()
	return id
}

func (s *subscriptions) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// matching returns the subscriptions matching topic, in registration order.
func (s *subscriptions) matching(topic string) []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []subscription
	for _, sub := range s.subs {
		if MatchTopic(sub.pattern, topic) {
			out = append(out, sub)
		}
	}
	return out
}

// dispatch invokes every matching handler for env. Each handler failure is
// isolated: it is logged and converted into exactly one system.error
// envelope via errPub, and delivery continues with the next handler.
// Failures while already handling a system.error envelope are logged only,
// so a faulting error-handler cannot recurse.
func dispatch(ctx context.Context, env *Envelope, subs []subscription, logger *slog.Logger, errPub func(*Envelope)) {
	for _, sub := range subs {
		if err := invoke(ctx, sub.handler, env); err != nil {
			logger.Warn("subscriber failed",
				"topic", env.Topic,
				"subscription", sub.id,
				"error", err,
			)
			if env.Topic == TopicSystemError || errPub == nil {
				continue
			}
			errPub(Reply(env, "bus", TopicSystemError, map[string]any{
				"error":        err.Error(),
				"topic":        env.Topic,
				"subscription": sub.id,
				"envelope_id":  env.ID,
			}))
		}
	}
}

// invoke runs one handler, converting panics to errors.
func invoke(ctx context.Context, h Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}
