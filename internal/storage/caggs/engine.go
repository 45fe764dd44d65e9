package caggs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/chunk"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/types"
)

// BucketSink persists computed buckets. The catalog provides the DuckDB
// implementation. Replace semantics: delete every stored bucket whose
// start falls in [fromMs, toMs), then insert the given rows, in one
// transaction.
type BucketSink interface {
	ReplaceStatusBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.StatusBucket) error
	ReplaceWeatherBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.WeatherBucket) error

	// BucketCoverage returns the exclusive upper bound of stored status
	// buckets, 0 when none exist. Seeds coverage after a restart.
	BucketCoverage(ctx context.Context) (int64, error)
}

// Engine refreshes the hourly aggregates on a sliding window behind now.
type Engine struct {
	cfg     *config.Config
	status  *chunk.Store[types.StatusSample]
	weather *chunk.Store[types.WeatherSample]
	sink    BucketSink
	log     *slog.Logger
	now     func() time.Time

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu             sync.Mutex
	coveredUntilMs int64
	lastRefresh    time.Time
	refreshes      int64
	failures       int64
}

// NewEngine creates the aggregate refresh engine.
func NewEngine(
	cfg *config.Config,
	status *chunk.Store[types.StatusSample],
	weather *chunk.Store[types.WeatherSample],
	sink BucketSink,
	logger *slog.Logger,
) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		status:  status,
		weather: weather,
		sink:    sink,
		log:     logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start seeds coverage from the stored buckets and launches the
// periodic refresh loop.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("aggregate engine already running")
	}

	if covered, err := e.sink.BucketCoverage(e.ctx); err != nil {
		e.log.Warn("could not read bucket coverage", "error", err)
	} else {
		e.mu.Lock()
		e.coveredUntilMs = covered
		e.mu.Unlock()
	}

	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop halts the loop and waits for the in-flight refresh.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	return nil
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Aggregate.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(e.ctx); err != nil {
				e.log.Error("aggregate refresh failed", "error", err)
			}
		}
	}
}

// Window returns the hour-aligned refresh window for the given instant:
// [now - start offset, now - end offset) truncated to hour boundaries.
// The end offset keeps the still-filling current hour out of the
// materialized rows.
func (e *Engine) Window(now time.Time) (fromMs, toMs int64) {
	fromMs = types.HourStart(now.Add(-e.cfg.Aggregate.StartOffset).UnixMilli())
	toMs = types.HourStart(now.Add(-e.cfg.Aggregate.EndOffset).UnixMilli())
	return fromMs, toMs
}

// Refresh recomputes every bucket in the current window from raw chunks
// and replaces the stored rows. Late samples that arrived since the last
// pass are picked up because the whole window is rescanned.
func (e *Engine) Refresh(ctx context.Context) error {
	fromMs, toMs := e.Window(e.now())
	if toMs <= fromMs {
		return nil
	}
	return e.RefreshWindow(ctx, fromMs, toMs)
}

// RefreshWindow recomputes an explicit hour-aligned window. Used by the
// periodic loop and for manual backfills.
func (e *Engine) RefreshWindow(ctx context.Context, fromMs, toMs int64) error {
	start := e.now()

	statusRows, err := e.status.Scan(fromMs, toMs, nil).Collect()
	if err != nil {
		e.log.Warn("status scan skipped unreadable chunks", "error", err)
	}
	statusBuckets := ComputeStatusBuckets(statusRows, fromMs, toMs, e.percentileOpts())

	weatherRows, err := e.weather.Scan(fromMs, toMs, nil).Collect()
	if err != nil {
		e.log.Warn("weather scan skipped unreadable chunks", "error", err)
	}
	weatherBuckets := ComputeWeatherBuckets(weatherRows, fromMs, toMs)

	if err := e.sink.ReplaceStatusBuckets(ctx, fromMs, toMs, statusBuckets); err != nil {
		e.fail()
		return verrors.NewStorage("replace status buckets", err)
	}
	if err := e.sink.ReplaceWeatherBuckets(ctx, fromMs, toMs, weatherBuckets); err != nil {
		e.fail()
		return verrors.NewStorage("replace weather buckets", err)
	}

	e.mu.Lock()
	if toMs > e.coveredUntilMs {
		e.coveredUntilMs = toMs
	}
	e.lastRefresh = e.now()
	e.refreshes++
	e.mu.Unlock()

	e.log.Debug("aggregate refresh",
		"from", time.UnixMilli(fromMs).UTC().Format(time.RFC3339),
		"to", time.UnixMilli(toMs).UTC().Format(time.RFC3339),
		"status_buckets", len(statusBuckets),
		"weather_buckets", len(weatherBuckets),
		"elapsed", e.now().Sub(start))
	return nil
}

func (e *Engine) percentileOpts() PercentileOpts {
	return PercentileOpts{
		Enabled:  e.cfg.Aggregate.Percentile.Enabled,
		Accuracy: e.cfg.Aggregate.Percentile.Accuracy,
	}
}

func (e *Engine) fail() {
	e.mu.Lock()
	e.failures++
	e.mu.Unlock()
}

// CoveredUntilMs returns the exclusive upper bound of materialized
// buckets. Hourly queries past this point must fall back to raw chunks.
func (e *Engine) CoveredUntilMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coveredUntilMs
}

// Stats describes refresh progress.
type Stats struct {
	Running        bool      `json:"running"`
	CoveredUntilMs int64     `json:"covered_until_ms"`
	LastRefresh    time.Time `json:"last_refresh"`
	Refreshes      int64     `json:"refreshes"`
	Failures       int64     `json:"failures"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Running:        e.running.Load(),
		CoveredUntilMs: e.coveredUntilMs,
		LastRefresh:    e.lastRefresh,
		Refreshes:      e.refreshes,
		Failures:       e.failures,
	}
}
