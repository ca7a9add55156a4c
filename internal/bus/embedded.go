package bus

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Embedded is the single-process bus. Publish runs fully synchronously in
// the caller's call stack: the envelope is recorded in the ring buffer and
// journaled (write+sync) before any handler runs, then matching handlers
// are invoked in registration order. Handlers are called outside the bus
// lock, so publishing from inside a handler is safe; the nested envelope's
// delivery completes before the outer publish returns to its caller. The
// flip side is that two goroutines publishing concurrently run handlers
// concurrently; handlers must tolerate that.
type Embedded struct {
	logger  *slog.Logger
	subs    *subscriptions
	ring    *Ring
	journal *Journal // nil when journaling is disabled
	closed  atomic.Bool
}

// NewEmbedded creates the embedded bus. An empty JournalPath disables the
// durable log (useful for tests and ephemeral tooling).
func NewEmbedded(cfg Config, logger *slog.Logger) (*Embedded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RingSize < 1 {
		cfg.RingSize = DefaultRingSize
	}

	b := &Embedded{
		logger: logger,
		subs:   &subscriptions{},
		ring:   NewRing(cfg.RingSize),
	}

	if cfg.JournalPath != "" {
		j, err := OpenJournal(cfg.JournalPath, logger)
		if err != nil {
			return nil, err
		}
		b.journal = j
	}

	logger.Info("embedded bus ready",
		"ring_size", cfg.RingSize,
		"journal", cfg.JournalPath,
	)
	return b, nil
}

// Publish records and delivers one envelope. Persistence failures are
// logged and swallowed: a full disk degrades observability, not
// availability.
func (b *Embedded) Publish(ctx context.Context, env *Envelope) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.ring.Add(env)

	if b.journal != nil {
		if err := b.journal.Append(env); err != nil {
			b.logger.Error("journal append failed",
				"topic", env.Topic,
				"error", err,
			)
		}
	}

	dispatch(ctx, env, b.subs.matching(env.Topic), b.logger, func(errEnv *Envelope) {
		// Best effort: the error envelope goes through the normal path so
		// it is journaled and delivered to system.error subscribers.
		_ = b.Publish(ctx, errEnv)
	})
	return nil
}

// Subscribe registers a handler for future envelopes.
func (b *Embedded) Subscribe(pattern string, h Handler) string {
	return b.subs.add(pattern, h)
}

// Unsubscribe removes a subscription.
func (b *Embedded) Unsubscribe(id string) {
	b.subs.remove(id)
}

// Recent returns the newest envelopes from the ring buffer.
func (b *Embedded) Recent(limit int) []*Envelope {
	return b.ring.Recent(limit)
}

// Replay re-publishes journal entries through the normal publish path,
// re-triggering handlers for every matching line.
func (b *Embedded) Replay(ctx context.Context, path, prefix string) (int, error) {
	if path == "" && b.journal != nil {
		path = b.journal.Path()
	}
	return ScanJournal(path, prefix, b.logger, func(env *Envelope) error {
		return b.Publish(ctx, env)
	})
}

// LoadHistory hydrates only the ring buffer: no journal writes, no handler
// invocation.
func (b *Embedded) LoadHistory(ctx context.Context, path, prefix string) (int, error) {
	if path == "" && b.journal != nil {
		path = b.journal.Path()
	}
	return ScanJournal(path, prefix, b.logger, func(env *Envelope) error {
		b.ring.Add(env)
		return nil
	})
}

// Close closes the journal. Subsequent publishes return ErrClosed.
func (b *Embedded) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.journal != nil {
		return b.journal.Close()
	}
	return nil
}
