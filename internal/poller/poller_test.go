package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantfabric/feedbus/internal/model"
)

// captureSink collects ingested ticks.
type captureSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (s *captureSink) Ingest(tick model.Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
}

func (s *captureSink) all() []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tick(nil), s.ticks...)
}

func testConfig(baseURL string) Config {
	return Config{
		Interval:   time.Hour, // only the immediate first poll runs
		Timeout:    2 * time.Second,
		BaseURL:    baseURL,
		VsCurrency: "usd",
		Assets: map[string]string{
			"bitcoin":  "BTC/USD",
			"ethereum": "ETH/USD",
		},
	}
}

func TestPoller_FetchesTicks(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("path = %s, want /simple/price", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"bitcoin":  {"usd": 65000.5, "usd_24h_vol": 1200000, "usd_24h_change": -1.25},
			"ethereum": {"usd": 3400.25, "usd_24h_vol": 800000, "usd_24h_change": 2.1}
		}`))
	}))
	defer server.Close()

	sink := &captureSink{}
	p := New(testConfig(server.URL), sink, nil)

	ticks, err := p.fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("fetch returned %d ticks, want 2", len(ticks))
	}

	// ids are sorted, so bitcoin comes first.
	btc := ticks[0]
	if btc.Symbol != "BTC/USD" {
		t.Errorf("Symbol = %s, want BTC/USD", btc.Symbol)
	}
	if btc.Exchange != "coingecko" {
		t.Errorf("Exchange = %s, want coingecko", btc.Exchange)
	}
	if btc.Last != 65000.5 || btc.Volume24h != 1200000 || btc.Change24h != -1.25 {
		t.Errorf("tick fields = last %v vol %v change %v", btc.Last, btc.Volume24h, btc.Change24h)
	}
	if btc.HasQuote() {
		t.Error("polled tick must not carry a bid/ask quote")
	}
	if btc.RawSymbol != "bitcoin" {
		t.Errorf("RawSymbol = %s, want bitcoin", btc.RawSymbol)
	}

	for _, want := range []string{
		"ids=bitcoin%2Cethereum",
		"vs_currencies=usd",
		"include_24hr_vol=true",
		"include_24hr_change=true",
	} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestPoller_SkipsAssetsWithoutPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin": {"usd": 65000.5}, "ethereum": {}}`))
	}))
	defer server.Close()

	p := New(testConfig(server.URL), &captureSink{}, nil)

	ticks, err := p.fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTC/USD" {
		t.Errorf("ticks = %+v, want only BTC/USD", ticks)
	}
}

func TestPoller_FetchErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := New(testConfig(server.URL), &captureSink{}, nil)

	if _, err := p.fetch(context.Background()); err == nil {
		t.Fatal("fetch succeeded on HTTP 429")
	}
}

func TestPoller_StartPollsImmediatelyAndStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin": {"usd": 65000.5}, "ethereum": {"usd": 3400.25}}`))
	}))
	defer server.Close()

	sink := &captureSink{}
	p := New(testConfig(server.URL), sink, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sink.all()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sink.all()); got != 2 {
		t.Fatalf("first poll delivered %d ticks, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
