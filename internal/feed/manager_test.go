package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantfabric/feedbus/internal/bus"
	"github.com/quantfabric/feedbus/internal/model"
)

// frameResult scripts one ReadTick return from a fake transport.
type frameResult struct {
	tick model.Tick
	ok   bool
	err  error
}

// fakeTransport is a scriptable transport. Tests push frames into the
// frames channel; an err frame kills the connection and the manager
// reconnects through the same channel.
type fakeTransport struct {
	name   string
	frames chan frameResult

	mu          sync.Mutex
	failConnect bool
	connects    int
	subscribes  int
	done        chan struct{}
	closed      bool
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, frames: make(chan frameResult, 16)}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failConnect {
		return errors.New("dial refused")
	}
	f.done = make(chan struct{})
	f.closed = false
	return nil
}

func (f *fakeTransport) Subscribe(symbols []string) error {
	f.mu.Lock()
	f.subscribes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReadTick() (model.Tick, bool, error) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return model.Tick{}, false, errors.New("not connected")
	}
	select {
	case fr := <-f.frames:
		return fr.tick, fr.ok, fr.err
	case <-done:
		return model.Tick{}, false, errors.New("connection closed")
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil && !f.closed {
		close(f.done)
		f.closed = true
	}
	return nil
}

func (f *fakeTransport) counts() (connects, subscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.subscribes
}

func newTestManager(t *testing.T, transports ...*fakeTransport) (*Manager, bus.Bus) {
	t.Helper()

	b, err := bus.NewEmbedded(bus.Config{}, nil)
	if err != nil {
		t.Fatalf("NewEmbedded failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	m := NewManager(Config{}, b, nil)
	for _, tr := range transports {
		m.addVenue(tr, VenueConfig{
			Name:           tr.name,
			Symbols:        []string{"BTC/USD"},
			ReconnectDelay: 5 * time.Millisecond,
		})
	}
	return m, b
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestManager_TickFlowsToBusAndCallbacks(t *testing.T) {
	tr := newFakeTransport("binance")
	m, b := newTestManager(t, tr)

	var mu sync.Mutex
	var cbTicks []model.Tick
	m.OnTick(func(tick model.Tick) {
		mu.Lock()
		cbTicks = append(cbTicks, tick)
		mu.Unlock()
	})

	var envMu sync.Mutex
	var topics []string
	b.Subscribe("ticks.*", func(ctx context.Context, env *bus.Envelope) error {
		envMu.Lock()
		topics = append(topics, env.Topic)
		envMu.Unlock()
		return nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	tr.frames <- frameResult{
		tick: model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 100, Ask: 101, Last: 100.5},
		ok:   true,
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cbTicks) == 1
	}, "tick never reached callback")

	mu.Lock()
	got := cbTicks[0]
	mu.Unlock()
	if got.Symbol != "BTC/USD" || got.Exchange != "binance" {
		t.Errorf("callback tick = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("zero timestamp not backfilled on ingest")
	}

	envMu.Lock()
	defer envMu.Unlock()
	if len(topics) != 1 || topics[0] != "ticks.binance" {
		t.Errorf("published topics = %v, want [ticks.binance]", topics)
	}
}

func TestManager_VenueFailureIsIsolated(t *testing.T) {
	bad := newFakeTransport("kraken")
	bad.failConnect = true
	good := newFakeTransport("binance")

	m, _ := newTestManager(t, bad, good)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	good.frames <- frameResult{
		tick: model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 100, Ask: 101},
		ok:   true,
	}

	waitFor(t, func() bool {
		_, found := m.GetBestTick("BTC/USD")
		return found
	}, "healthy venue stopped delivering because another venue is down")

	waitFor(t, func() bool {
		connects, _ := bad.counts()
		return connects >= 2
	}, "failing venue not retried")

	for _, s := range m.StatusSnapshots() {
		switch s.Exchange {
		case "kraken":
			if s.Connected {
				t.Error("kraken reported connected despite failing dials")
			}
			if s.Errors == 0 {
				t.Error("kraken connect failures not counted")
			}
		case "binance":
			if !s.Connected {
				t.Error("binance reported disconnected")
			}
		}
	}
}

func TestManager_ReconnectResubscribes(t *testing.T) {
	tr := newFakeTransport("coinbase")
	m, _ := newTestManager(t, tr)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, func() bool {
		connects, _ := tr.counts()
		return connects == 1
	}, "venue never connected")

	// Kill the connection; the manager must reconnect and resubscribe
	// the full symbol set.
	tr.frames <- frameResult{err: errors.New("peer reset")}

	waitFor(t, func() bool {
		connects, subscribes := tr.counts()
		return connects >= 2 && subscribes >= 2
	}, "venue not resubscribed after reconnect")

	tr.frames <- frameResult{
		tick: model.Tick{Symbol: "BTC/USD", Exchange: "coinbase", Bid: 99, Ask: 100},
		ok:   true,
	}
	waitFor(t, func() bool {
		_, found := m.GetBestTick("BTC/USD")
		return found
	}, "no tick delivered after reconnect")
}

func TestManager_BadFramesAreCountedNotFatal(t *testing.T) {
	tr := newFakeTransport("binance")
	m, _ := newTestManager(t, tr)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	tr.frames <- frameResult{err: ErrBadFrame}
	tr.frames <- frameResult{
		tick: model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 100, Ask: 101},
		ok:   true,
	}

	waitFor(t, func() bool {
		_, found := m.GetBestTick("BTC/USD")
		return found
	}, "tick after malformed frame never delivered")

	connects, _ := tr.counts()
	if connects != 1 {
		t.Errorf("connects = %d, want 1 (bad frame must not reconnect)", connects)
	}

	for _, s := range m.StatusSnapshots() {
		if s.Exchange == "binance" && s.Errors == 0 {
			t.Error("malformed frame not counted")
		}
	}
}

func TestNewManager_DisablesVenueWithoutCredentials(t *testing.T) {
	b, err := bus.NewEmbedded(bus.Config{}, nil)
	if err != nil {
		t.Fatalf("NewEmbedded failed: %v", err)
	}
	defer b.Close()

	m := NewManager(Config{Venues: []VenueConfig{
		{Name: "kraken", Symbols: []string{"BTC/USD"}, RequiresAuth: true},
		{Name: "no-such-exchange", Symbols: []string{"BTC/USD"}},
		{Name: "binance", Symbols: []string{"BTC/USDT"}},
	}}, b, nil)

	snaps := m.StatusSnapshots()
	if len(snaps) != 1 {
		t.Fatalf("managed venues = %d, want 1", len(snaps))
	}
	if snaps[0].Exchange != "binance" {
		t.Errorf("remaining venue = %s, want binance", snaps[0].Exchange)
	}
}

func TestManager_GetBestTick(t *testing.T) {
	tr := newFakeTransport("binance")
	m, _ := newTestManager(t, tr)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 100, Ask: 102, Timestamp: base})
	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "coinbase", Bid: 100, Ask: 100.5, Timestamp: base})
	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "kraken", Bid: 100, Ask: 110, Timestamp: base})

	best, found := m.GetBestTick("BTC/USD")
	if !found {
		t.Fatal("GetBestTick found = false")
	}
	if best.Exchange != "coinbase" {
		t.Errorf("best exchange = %s, want coinbase (tightest spread)", best.Exchange)
	}

	if _, found := m.GetBestTick("ETH/USD"); found {
		t.Error("GetBestTick returned a tick for an unknown symbol")
	}
}

func TestManager_GetBestTick_QuotelessRecencyTiebreak(t *testing.T) {
	tr := newFakeTransport("binance")
	m, _ := newTestManager(t, tr)

	older := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	m.Ingest(model.Tick{Symbol: "DOGE/USD", Exchange: "coingecko", Last: 0.12, Timestamp: older})
	m.Ingest(model.Tick{Symbol: "DOGE/USD", Exchange: "kraken", Last: 0.13, Timestamp: newer})

	best, found := m.GetBestTick("DOGE/USD")
	if !found {
		t.Fatal("GetBestTick found = false")
	}
	if best.Exchange != "kraken" {
		t.Errorf("best exchange = %s, want kraken (newer quoteless tick)", best.Exchange)
	}
}

func TestManager_LatestAndSnapshot(t *testing.T) {
	tr := newFakeTransport("binance")
	m, _ := newTestManager(t, tr)

	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 100, Ask: 101})
	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "kraken", Bid: 100, Ask: 102})
	m.Ingest(model.Tick{Symbol: "BTC/USD", Exchange: "binance", Bid: 105, Ask: 106})
	m.Ingest(model.Tick{Symbol: "ETH/USD", Exchange: "binance", Bid: 10, Ask: 11})

	latest := m.Latest("BTC/USD")
	if len(latest) != 2 {
		t.Fatalf("Latest returned %d ticks, want 2", len(latest))
	}
	for _, tick := range latest {
		if tick.Exchange == "binance" && tick.Bid != 105 {
			t.Errorf("binance tick not overwritten: bid = %v, want 105", tick.Bid)
		}
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Errorf("Snapshot has %d symbols, want 2", len(snap))
	}
	if len(snap["BTC/USD"]) != 2 || len(snap["ETH/USD"]) != 1 {
		t.Errorf("Snapshot sizes = %d/%d, want 2/1", len(snap["BTC/USD"]), len(snap["ETH/USD"]))
	}
}

func TestManager_StopUnblocksReads(t *testing.T) {
	tr := newFakeTransport("binance")
	m, _ := newTestManager(t, tr)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, func() bool {
		connects, _ := tr.counts()
		return connects == 1
	}, "venue never connected")

	// No frames queued: the read loop is blocked. Stop must still return.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed with a blocked read: %v", err)
	}
}
