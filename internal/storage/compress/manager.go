// Package compress drives background chunk compression.
//
// A periodic pass seals elapsed chunks, collects sealed chunks older
// than the configured age threshold and rewrites them as Parquet under a
// bounded worker pool. A failing chunk is logged and skipped, the pass
// continues with the rest.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/types"
)

// Target is a chunk store the manager compresses. Both sample stores
// satisfy it.
type Target interface {
	Stream() types.Stream
	SealElapsed() int
	Compressible(cutoff time.Time) []int64
	Compress(startMs int64) error
}

// Manager schedules compression passes across all targets.
type Manager struct {
	cfg     *config.Config
	targets []Target
	log     *slog.Logger
	now     func() time.Time

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// Stats counts compression outcomes.
type Stats struct {
	Passes     atomic.Int64
	Sealed     atomic.Int64
	Compressed atomic.Int64
	Failed     atomic.Int64
}

// New creates a compression manager over the given targets.
func New(cfg *config.Config, targets []Target, logger *slog.Logger) *Manager {
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
		log:     logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the periodic scheduler.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("compression manager already running")
	}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the scheduler and waits for the in-flight pass.
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

	ticker := time.NewTicker(m.cfg.Compression.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunPass(m.ctx); err != nil {
				m.log.Error("compression pass failed", "error", err)
			}
		}
	}
}

// RunPass performs one seal-and-compress pass synchronously. Chunk
// failures are counted but do not fail the pass, only a canceled context
// does.
func (m *Manager) RunPass(ctx context.Context) error {
	m.stats.Passes.Add(1)
	cutoff := m.now().Add(-m.cfg.Compression.Age)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())

	for _, t := range m.targets {
		sealed := t.SealElapsed()
		m.stats.Sealed.Add(int64(sealed))

		for _, startMs := range t.Compressible(cutoff) {
			t, startMs := t, startMs
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := t.Compress(startMs); err != nil {
					m.stats.Failed.Add(1)
					m.log.Error("chunk compression failed",
						"stream", t.Stream().String(),
						"start", time.UnixMilli(startMs).UTC().Format(time.RFC3339),
						"error", err)
					return nil
				}
				m.stats.Compressed.Add(1)
				return nil
			})
		}
	}
	return g.Wait()
}

func (m *Manager) workers() int {
	if w := m.cfg.Compression.Workers; w > 0 {
		return w
	}
	return 2
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Manager) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Running:    m.running.Load(),
		Passes:     m.stats.Passes.Load(),
		Sealed:     m.stats.Sealed.Load(),
		Compressed: m.stats.Compressed.Load(),
		Failed:     m.stats.Failed.Load(),
	}
}

// StatsSnapshot is the exported view of Stats.
type StatsSnapshot struct {
	Running    bool  `json:"running"`
	Passes     int64 `json:"passes"`
	Sealed     int64 `json:"sealed"`
	Compressed int64 `json:"compressed"`
	Failed     int64 `json:"failed"`
}
