// Package retention enforces per-stream data horizons.
//
// Expiry is chunk-granular: a chunk is dropped only once its entire
// range has fallen behind the stream's horizon, so a chunk straddling
// the cutoff survives whole until its newest sample expires. Prediction
// rows live in the catalog and are purged row-wise through a hook.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/types"
)

// Target is a chunk store the manager expires.
type Target interface {
	Stream() types.Stream
	Chunks() []types.ChunkInfo
	ExpireBefore(cutoff time.Time) []types.ChunkInfo
	PruneWAL(cutoff time.Time) (int, error)
}

// PurgeFunc deletes prediction rows generated before the cutoff and
// returns the number of rows removed.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Manager runs periodic retention passes.
type Manager struct {
	cfg     *config.Config
	targets []Target
	purge   PurgeFunc // may be nil
	log     *slog.Logger
	now     func() time.Time

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	stats ManagerStats
}

// Result describes one stream's outcome for a single pass.
type Result struct {
	Stream        types.Stream
	ChunksExpired int
	RowsDropped   int
	WALSegments   int
	Err           error
}

// ManagerStats accumulates across passes.
type ManagerStats struct {
	LastRun       time.Time
	Passes        int64
	ChunksExpired int64
	RowsDropped   int64
	RowsPurged    int64
	WALSegments   int64
	Errors        int64
}

// New creates a retention manager. purge may be nil when no row-wise
// stream exists.
func New(cfg *config.Config, targets []Target, purge PurgeFunc, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		targets: targets,
		purge:   purge,
		log:     logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the periodic retention loop.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("retention manager already running")
	}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the loop and waits for the in-flight pass.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunPass(m.ctx)
		}
	}
}

// RunPass applies every stream's horizon once. Per-stream failures are
// recorded in the results, one stream never blocks another.
func (m *Manager) RunPass(ctx context.Context) []Result {
	now := m.now()

	m.mu.Lock()
	m.stats.LastRun = now
	m.stats.Passes++
	m.mu.Unlock()

	var results []Result
	for _, t := range m.targets {
		results = append(results, m.expireTarget(t, now))
	}

	if m.purge != nil {
		cutoff := now.Add(-m.cfg.Retention.Predictions)
		purged, err := m.purge(ctx, cutoff)
		if err != nil {
			m.log.Error("prediction purge failed", "error", err)
			m.addErrors(1)
		} else if purged > 0 {
			m.log.Info("purged expired predictions", "rows", purged)
			m.mu.Lock()
			m.stats.RowsPurged += purged
			m.mu.Unlock()
		}
	}
	return results
}

func (m *Manager) expireTarget(t Target, now time.Time) Result {
	res := Result{Stream: t.Stream()}
	cutoff := now.Add(-m.cfg.StreamRetention(t.Stream()))

	expired := t.ExpireBefore(cutoff)
	for _, info := range expired {
		res.ChunksExpired++
		res.RowsDropped += info.Rows
	}

	// WAL segments are safe to drop once every sample they could hold
	// precedes the horizon. Segment mtime bounds its newest record, so
	// the horizon cutoff itself is a valid prune point.
	pruned, err := t.PruneWAL(cutoff)
	if err != nil {
		res.Err = err
		m.log.Error("wal prune failed", "stream", t.Stream().String(), "error", err)
		m.addErrors(1)
	}
	res.WALSegments = pruned

	if res.ChunksExpired > 0 || res.WALSegments > 0 {
		m.log.Info("retention pass",
			"stream", t.Stream().String(),
			"chunks_expired", res.ChunksExpired,
			"rows_dropped", res.RowsDropped,
			"wal_segments", res.WALSegments)
	}

	m.mu.Lock()
	m.stats.ChunksExpired += int64(res.ChunksExpired)
	m.stats.RowsDropped += int64(res.RowsDropped)
	m.stats.WALSegments += int64(res.WALSegments)
	m.mu.Unlock()

	return res
}

// DryRun reports what a pass would expire without touching anything.
func (m *Manager) DryRun() []Result {
	now := m.now()

	var results []Result
	for _, t := range m.targets {
		res := Result{Stream: t.Stream()}
		cutoffMs := now.Add(-m.cfg.StreamRetention(t.Stream())).UnixMilli()
		for _, info := range t.Chunks() {
			if info.EndMs <= cutoffMs {
				res.ChunksExpired++
				res.RowsDropped += info.Rows
			}
		}
		results = append(results, res)
	}
	return results
}

func (m *Manager) addErrors(n int64) {
	m.mu.Lock()
	m.stats.Errors += n
	m.mu.Unlock()
}

// Stats returns accumulated counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
