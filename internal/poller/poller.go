package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantfabric/feedbus/internal/model"
)

// TickSink receives polled ticks. The feed manager's Ingest method
// satisfies it, so polled prices travel the same path as streamed ones.
type TickSink interface {
	Ingest(tick model.Tick)
}

// Config holds poller configuration.
type Config struct {
	Interval   time.Duration     // poll interval (default: 30s)
	Timeout    time.Duration     // per-request timeout (default: 10s)
	BaseURL    string            // API root (default: https://api.coingecko.com/api/v3)
	VsCurrency string            // quote currency (default: usd)
	Assets     map[string]string // CoinGecko id → canonical symbol, e.g. "bitcoin" → "BTC/USD"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Second,
		Timeout:    10 * time.Second,
		BaseURL:    "https://api.coingecko.com/api/v3",
		VsCurrency: "usd",
	}
}

// Poller periodically fetches spot prices over REST. It emits last-trade
// ticks with no bid/ask, so a streamed two-sided quote always beats a
// polled price in best-tick selection.
type Poller struct {
	cfg    Config
	client *http.Client
	sink   TickSink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, sink TickSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = def.VsCurrency
	}

	return &Poller{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sink:   sink,
		logger: logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("rest poller started",
		"interval", p.cfg.Interval,
		"assets", len(p.cfg.Assets),
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("rest poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches all configured assets in one request and hands the
// resulting ticks to the sink.
func (p *Poller) poll() {
	if len(p.cfg.Assets) == 0 {
		p.logger.Debug("no assets configured to poll")
		return
	}

	start := time.Now()
	ticks, err := p.fetch(p.ctx)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn("poll failed", "error", err)
		}
		return
	}

	for _, tick := range ticks {
		p.sink.Ingest(tick)
	}

	p.logger.Debug("poll cycle complete",
		"ticks", len(ticks),
		"duration", time.Since(start),
	)
}

// fetch calls GET /simple/price for every configured asset id.
func (p *Poller) fetch(ctx context.Context) ([]model.Tick, error) {
	ids := make([]string, 0, len(p.cfg.Assets))
	for id := range p.cfg.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", p.cfg.VsCurrency)
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		p.cfg.BaseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("simple/price: unexpected status %d", resp.StatusCode)
	}

	// {"bitcoin":{"usd":65000,"usd_24h_vol":1.2e9,"usd_24h_change":-1.25}}
	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("simple/price: decode: %w", err)
	}

	now := time.Now().UTC()
	vs := strings.ToLower(p.cfg.VsCurrency)
	ticks := make([]model.Tick, 0, len(body))
	for _, id := range ids {
		fields, ok := body[id]
		if !ok {
			p.logger.Warn("asset missing from response", "id", id)
			continue
		}
		price, ok := fields[vs]
		if !ok || price <= 0 {
			p.logger.Warn("asset has no usable price", "id", id)
			continue
		}

		ticks = append(ticks, model.Tick{
			Symbol:    p.cfg.Assets[id],
			Exchange:  "coingecko",
			Last:      price,
			Volume24h: fields[vs+"_24h_vol"],
			Change24h: fields[vs+"_24h_change"],
			Timestamp: now,
			RawSymbol: id,
		})
	}
	return ticks, nil
}
