package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfabric/feedbus/internal/bus"
	"github.com/quantfabric/feedbus/internal/config"
	"github.com/quantfabric/feedbus/internal/model"
)

// Config holds recorder configuration.
type Config struct {
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max time a row waits in the batch
	QueueSize     int           // bus-to-writer queue depth (default: 4096)
}

// DefaultQueueSize bounds the bus-to-writer queue.
const DefaultQueueSize = 4096

// DefaultConfig returns sensible defaults. Batch sizing shares the config
// package's constants so the YAML defaults and library defaults agree.
func DefaultConfig() Config {
	return Config{
		BatchSize:     config.DefaultBatchSize,
		FlushInterval: config.DefaultFlushInterval,
		QueueSize:     DefaultQueueSize,
	}
}

// Metrics counts recorder activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Dropped   int64 // ticks discarded because the queue was full
	Errors    int64
}

// tickRow is the database shape of one tick.
type tickRow struct {
	Ts        time.Time
	Exchange  string
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume24h float64
	Change24h float64
}

// Recorder archives every tick envelope to the ticks table. The bus
// handler only enqueues; batching and inserts run on their own goroutine
// so publishers never wait on the database.
type Recorder struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	queue chan tickRow
	subID string
	b     bus.Bus

	batchMu sync.Mutex
	batch   []tickRow
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		queue:  make(chan tickRow, cfg.QueueSize),
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to tick envelopes and begins the write loop.
func (r *Recorder) Start(ctx context.Context, b bus.Bus) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.b = b
	r.subID = b.Subscribe("ticks.*", r.handleEnvelope)

	r.wg.Add(1)
	go r.writeLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains, and flushes what remains.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	if r.b != nil {
		r.b.Unsubscribe(r.subID)
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	// Final flush runs on the caller's context: r.ctx is already gone.
	r.flush(ctx)
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// handleEnvelope is the bus subscription. It must never block: a full
// queue drops the tick and counts it.
func (r *Recorder) handleEnvelope(ctx context.Context, env *bus.Envelope) error {
	tick, err := model.TickFromPayload(env.Payload)
	if err != nil {
		r.logger.Warn("unrecordable tick envelope",
			"topic", env.Topic,
			"envelope_id", env.ID,
			"error", err,
		)
		return nil
	}

	select {
	case r.queue <- rowFromTick(tick):
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
	}
	return nil
}

func rowFromTick(t model.Tick) tickRow {
	return tickRow{
		Ts:        t.Timestamp.UTC(),
		Exchange:  t.Exchange,
		Symbol:    t.Symbol,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Volume24h: t.Volume24h,
		Change24h: t.Change24h,
	}
}

// writeLoop drains the queue into batches, flushing on size or interval.
func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.drainQueue()
			return
		case row := <-r.queue:
			if r.append(row) {
				r.flush(r.ctx)
			}
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// drainQueue moves whatever is still queued into the batch so the final
// flush in Stop can write it.
func (r *Recorder) drainQueue() {
	for {
		select {
		case row := <-r.queue:
			r.append(row)
		default:
			return
		}
	}
}

// append adds a row and reports whether the batch is full.
func (r *Recorder) append(row tickRow) bool {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.batch = append(r.batch, row)
	return len(r.batch) >= r.cfg.BatchSize
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]tickRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO ticks (ts, exchange, symbol, bid, ask, last, volume_24h, change_24h)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (exchange, symbol, ts) DO NOTHING
		`, row.Ts, row.Exchange, row.Symbol, row.Bid, row.Ask, row.Last, row.Volume24h, row.Change24h)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
