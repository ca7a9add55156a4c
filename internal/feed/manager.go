package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfabric/feedbus/internal/bus"
	"github.com/quantfabric/feedbus/internal/model"
)

// Config configures the feed manager.
type Config struct {
	Venues []VenueConfig
}

// venue couples one transport with its status record and settings.
type venue struct {
	cfg       VenueConfig
	transport Transport
	status    *Status
}

// Manager owns one connection task per enabled venue plus the shared
// emission path: latest-tick table, local callbacks, and bus publication.
type Manager struct {
	logger *slog.Logger
	bus    bus.Bus
	venues []*venue

	// latest is last-writer-wins: concurrent ticks for the same symbol
	// from different exchanges may race, readers see the most recent in
	// wall-clock order.
	latestMu sync.RWMutex
	latest   map[string]map[string]model.Tick // symbol → exchange → tick

	cbMu      sync.RWMutex
	callbacks []func(model.Tick)

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewManager creates a feed manager. Venues that require credentials but
// have none configured are disabled here: logged, never fatal.
func NewManager(cfg Config, b bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger: logger,
		bus:    b,
		latest: make(map[string]map[string]model.Tick),
	}

	for _, vc := range cfg.Venues {
		if vc.RequiresAuth && vc.APIKey == "" {
			logger.Warn("credentials missing, venue disabled", "exchange", vc.Name)
			continue
		}

		t := newTransport(vc, logger.With("exchange", vc.Name))
		if t == nil {
			logger.Warn("unknown exchange, venue skipped", "exchange", vc.Name)
			continue
		}
		m.addVenue(t, vc)
	}

	return m
}

// newTransport builds the venue-specific transport.
func newTransport(cfg VenueConfig, logger *slog.Logger) Transport {
	switch cfg.Name {
	case "binance":
		return newBinance(cfg, logger)
	case "kraken":
		return newKraken(cfg, logger)
	case "coinbase":
		return newCoinbase(cfg, logger)
	default:
		return nil
	}
}

func (m *Manager) addVenue(t Transport, cfg VenueConfig) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	m.venues = append(m.venues, &venue{
		cfg:       cfg,
		transport: t,
		status:    newStatus(cfg.Name, cfg.Symbols),
	})
}

// Start launches one connection task per venue.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.group, _ = errgroup.WithContext(m.ctx)

	for _, v := range m.venues {
		v := v
		m.group.Go(func() error {
			m.runVenue(m.ctx, v)
			return nil
		})
	}

	m.logger.Info("feed manager started", "venues", len(m.venues))
	return nil
}

// Stop cancels every connection task, closes open sockets to abandon
// blocked reads and in-flight reconnect delays, and waits.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()

	for _, v := range m.venues {
		v.transport.Close()
	}

	done := make(chan struct{})
	go func() {
		m.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("feed manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("feed manager stop timed out")
		return ctx.Err()
	}
}

// OnTick registers a local callback for every ingested tick.
func (m *Manager) OnTick(cb func(model.Tick)) {
	m.cbMu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.cbMu.Unlock()
}

// Ingest records one normalized tick: latest-tick table, local callbacks,
// then an envelope on ticks.<exchange>. Streaming transports and the REST
// fallback poller share this path.
func (m *Manager) Ingest(tick model.Tick) {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now().UTC()
	}
	if tick.Crossed() {
		// Data-quality signal, not an error.
		m.logger.Debug("crossed quote",
			"exchange", tick.Exchange,
			"symbol", tick.Symbol,
			"bid", tick.Bid,
			"ask", tick.Ask,
		)
	}

	m.latestMu.Lock()
	bySource, ok := m.latest[tick.Symbol]
	if !ok {
		bySource = make(map[string]model.Tick)
		m.latest[tick.Symbol] = bySource
	}
	bySource[tick.Exchange] = tick
	m.latestMu.Unlock()

	m.cbMu.RLock()
	callbacks := m.callbacks
	m.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(tick)
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	env := bus.New("feed."+tick.Exchange, "ticks."+tick.Exchange, tick.Payload())
	if err := m.bus.Publish(ctx, env); err != nil {
		m.logger.Error("publish tick failed",
			"exchange", tick.Exchange,
			"symbol", tick.Symbol,
			"error", err,
		)
	}
}

// GetBestTick returns the tick with the tightest relative spread
// (ask-bid)/bid among all sources for a symbol. One-sided ticks only win
// when no source has a two-sided quote; recency breaks that tie.
func (m *Manager) GetBestTick(symbol string) (model.Tick, bool) {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()

	bySource, ok := m.latest[symbol]
	if !ok || len(bySource) == 0 {
		return model.Tick{}, false
	}

	var best model.Tick
	found := false
	for _, tick := range bySource {
		switch {
		case !found:
			best, found = tick, true
		case tick.SpreadRatio() < best.SpreadRatio():
			best = tick
		case !tick.HasQuote() && !best.HasQuote() && tick.Timestamp.After(best.Timestamp):
			best = tick
		}
	}
	return best, found
}

// Latest returns all known ticks for a symbol, one per source.
func (m *Manager) Latest(symbol string) []model.Tick {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()

	out := make([]model.Tick, 0, len(m.latest[symbol]))
	for _, tick := range m.latest[symbol] {
		out = append(out, tick)
	}
	return out
}

// Snapshot returns a copy of the whole latest-tick table.
func (m *Manager) Snapshot() map[string][]model.Tick {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()

	out := make(map[string][]model.Tick, len(m.latest))
	for symbol, bySource := range m.latest {
		for _, tick := range bySource {
			out[symbol] = append(out[symbol], tick)
		}
	}
	return out
}

// StatusSnapshots returns one snapshot per managed venue.
func (m *Manager) StatusSnapshots() []StatusSnapshot {
	out := make([]StatusSnapshot, 0, len(m.venues))
	for _, v := range m.venues {
		out = append(out, v.status.Snapshot())
	}
	return out
}

// runVenue is one exchange's state machine: DISCONNECTED → CONNECTING →
// CONNECTED → (transport error) → DISCONNECTED, looping until ctx is
// cancelled. Every error is retried; there is no terminal failure state.
func (m *Manager) runVenue(ctx context.Context, v *venue) {
	logger := m.logger.With("exchange", v.cfg.Name)
	delay := v.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		if err := v.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			v.status.recordError()
			logger.Warn("connect failed", "error", err, "retry_in", delay)
			if !sleepWithJitter(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		// Stop closes transports right after cancelling; a dial that
		// completed inside that window holds a socket Stop never saw.
		if ctx.Err() != nil {
			v.transport.Close()
			return
		}

		// Subscriptions never survive a reconnect implicitly: the full
		// symbol set is resubscribed on every CONNECTED transition.
		if err := v.transport.Subscribe(v.cfg.Symbols); err != nil {
			v.status.recordError()
			v.transport.Close()
			logger.Warn("subscribe failed", "error", err, "retry_in", delay)
			if !sleepWithJitter(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		v.status.setConnected(true)
		logger.Info("exchange connected", "symbols", len(v.cfg.Symbols))
		delay = v.cfg.ReconnectDelay

		m.readLoop(ctx, v, logger)

		v.status.setConnected(false)
		v.transport.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("exchange disconnected", "retry_in", delay)
		if !sleepWithJitter(ctx, delay) {
			return
		}
	}
}

// readLoop consumes frames until the transport dies. Malformed frames are
// counted and skipped, never fatal to the connection.
func (m *Manager) readLoop(ctx context.Context, v *venue, logger *slog.Logger) {
	for {
		tick, ok, err := v.transport.ReadTick()
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				v.status.recordError()
				continue
			}
			if ctx.Err() == nil {
				logger.Warn("read failed", "error", err)
			}
			return
		}

		v.status.recordMessage()
		if !ok {
			continue
		}
		m.Ingest(tick)
	}
}

// sleepWithJitter waits delay plus up to 20% jitter so venues that fail
// together do not reconnect in lockstep. Returns false when cancelled.
func sleepWithJitter(ctx context.Context, delay time.Duration) bool {
	jittered := delay + rand.N(delay/5+1)
	timer := time.NewTimer(jittered)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextDelay doubles the backoff up to the cap.
func nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}
