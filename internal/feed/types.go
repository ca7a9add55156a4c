package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantfabric/feedbus/internal/model"
)

// Errors
var (
	// ErrBadFrame marks a malformed inbound frame. The connection task
	// counts it and keeps reading; it never tears down the connection.
	ErrBadFrame = errors.New("malformed frame")
)

// maxReconnectDelay caps the per-venue backoff.
const maxReconnectDelay = 60 * time.Second

// Transport is one venue's streaming connection. Implementations own a
// single socket; the Manager drives the connect/subscribe/read cycle and
// all retry policy.
type Transport interface {
	// Name returns the exchange identifier (e.g., "binance").
	Name() string

	// Connect establishes the stream. Safe to call again after a failure.
	Connect(ctx context.Context) error

	// Subscribe requests ticker updates for canonical BASE/QUOTE symbols.
	// Payloads must match the venue's documentation exactly: a malformed
	// subscribe silently receives no data rather than erroring.
	Subscribe(symbols []string) error

	// ReadTick blocks for the next inbound frame. ok is false for frames
	// that are valid but carry no tick (acks, heartbeats). A returned
	// ErrBadFrame is counted and skipped; any other error means the
	// transport is dead and triggers a reconnect.
	ReadTick() (tick model.Tick, ok bool, err error)

	// Close tears down the socket. Safe to call at any time, from any
	// goroutine, including while ReadTick is blocked.
	Close() error
}

// VenueConfig configures one exchange connection task.
type VenueConfig struct {
	Name           string
	Symbols        []string // canonical BASE/QUOTE
	RequiresAuth   bool
	APIKey         string
	APISecret      string
	ReconnectDelay time.Duration
}

// Status is one exchange's connection state. It is created at manager start,
// mutated only by its owning connection task, and read by the health
// monitor. It lives for the duration of the process.
type Status struct {
	exchange string

	mu          sync.Mutex
	connected   bool
	lastMessage time.Time
	messages    int64
	errors      int64
	symbols     []string
}

// StatusSnapshot is a point-in-time copy of a Status for readers.
type StatusSnapshot struct {
	Exchange    string    `json:"exchange"`
	Connected   bool      `json:"connected"`
	LastMessage time.Time `json:"last_message"`
	Messages    int64     `json:"messages"`
	Errors      int64     `json:"errors"`
	Symbols     []string  `json:"symbols"`
}

func newStatus(exchange string, symbols []string) *Status {
	return &Status{exchange: exchange, symbols: symbols}
}

func (s *Status) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *Status) recordMessage() {
	s.mu.Lock()
	s.messages++
	s.lastMessage = time.Now()
	s.mu.Unlock()
}

func (s *Status) recordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Snapshot returns a copy safe to hand to readers.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Exchange:    s.exchange,
		Connected:   s.connected,
		LastMessage: s.lastMessage,
		Messages:    s.messages,
		Errors:      s.errors,
		Symbols:     append([]string(nil), s.symbols...),
	}
}
