// Package storage orchestrates the chunk stores and their background
// managers: sealing, compression, retention and the continuous hourly
// aggregates.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velostore/velostore/internal/storage/caggs"
	"github.com/velostore/velostore/internal/storage/chunk"
	"github.com/velostore/velostore/internal/storage/compress"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/parquet"
	"github.com/velostore/velostore/internal/storage/query"
	"github.com/velostore/velostore/internal/storage/retention"
	"github.com/velostore/velostore/internal/storage/types"
	"github.com/velostore/velostore/internal/storage/wal"
)

// Catalog is what storage needs from the metadata store: a place to
// materialize hourly buckets and read them back.
type Catalog interface {
	caggs.BucketSink
	query.BucketSource
}

// Service is the storage engine facade.
type Service struct {
	config *config.Config
	log    *slog.Logger

	status  *chunk.Store[types.StatusSample]
	weather *chunk.Store[types.WeatherSample]

	compression *compress.Manager
	retention   *retention.Manager
	aggregates  *caggs.Engine
	query       *query.Service

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
}

// New builds the storage engine. cat provides bucket persistence;
// purgePredictions is retention's hook for row-wise prediction data and
// may be nil.
func New(cfg *config.Config, cat Catalog, purgePredictions retention.PurgeFunc, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	compression := parquet.ParseCompressionType(cfg.Compression.Algorithm)
	walOpts := wal.Options{
		SyncMode:       cfg.WAL.SyncMode,
		SyncInterval:   cfg.WAL.SyncInterval,
		MaxSegmentSize: cfg.WAL.MaxSegmentSize,
	}

	status, err := chunk.Open(chunk.Options[types.StatusSample]{
		Stream:  types.StreamStatus,
		Dir:     cfg.StreamDir(types.StreamStatus),
		Width:   cfg.ChunkWidth(types.StreamStatus),
		Codec:   parquet.StatusCodec{Compression: compression},
		WALDir:  cfg.WALDir(types.StreamStatus),
		WALOpts: walOpts,
		Encode:  wal.EncodeStatus,
		Decode:  wal.DecodeStatus,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}

	weather, err := chunk.Open(chunk.Options[types.WeatherSample]{
		Stream:  types.StreamWeather,
		Dir:     cfg.StreamDir(types.StreamWeather),
		Width:   cfg.ChunkWidth(types.StreamWeather),
		Codec:   parquet.WeatherCodec{Compression: compression},
		WALDir:  cfg.WALDir(types.StreamWeather),
		WALOpts: walOpts,
		Encode:  wal.EncodeWeather,
		Decode:  wal.DecodeWeather,
		Logger:  logger,
	})
	if err != nil {
		status.Close()
		return nil, fmt.Errorf("open weather store: %w", err)
	}

	aggregates := caggs.NewEngine(cfg, status, weather, cat, logger)

	qry, err := query.New(cfg, status, weather, cat, aggregates)
	if err != nil {
		status.Close()
		weather.Close()
		return nil, fmt.Errorf("create query service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config: cfg,
		log:    logger,
		status: status, weather: weather,
		compression: compress.New(cfg, []compress.Target{status, weather}, logger),
		retention:   retention.New(cfg, []retention.Target{status, weather}, purgePredictions, logger),
		aggregates:  aggregates,
		query:       qry,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches the background managers and the seal ticker.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("storage service already running")
	}
	s.startTime = time.Now()

	if err := s.compression.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start compression: %w", err)
	}
	if err := s.retention.Start(); err != nil {
		s.compression.Stop()
		s.running.Store(false)
		return fmt.Errorf("start retention: %w", err)
	}
	if err := s.aggregates.Start(); err != nil {
		s.retention.Stop()
		s.compression.Stop()
		s.running.Store(false)
		return fmt.Errorf("start aggregates: %w", err)
	}

	s.wg.Add(1)
	go s.sealWorker()

	s.log.Info("storage service started", "data_dir", s.config.DataDir)
	return nil
}

// Stop shuts the managers down in reverse order and closes the stores.
// Safe to call on a service that was never started; the stores are
// closed either way.
func (s *Service) Stop() error {
	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	var errs []error
	if err := s.aggregates.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop aggregates: %w", err))
	}
	if err := s.retention.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop retention: %w", err))
	}
	if err := s.compression.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop compression: %w", err))
	}
	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}
	if err := s.status.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close status store: %w", err))
	}
	if err := s.weather.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close weather store: %w", err))
	}

	s.log.Info("storage service stopped", "uptime", time.Since(s.startTime).Round(time.Second))
	return errors.Join(errs...)
}

func (s *Service) sealWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Chunks.SealInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.status.SealElapsed()
			s.weather.SealElapsed()
		}
	}
}

// AppendStatus writes one station status sample.
func (s *Service) AppendStatus(sample types.StatusSample) error {
	return s.status.Append(sample)
}

// AppendWeather writes one weather observation.
func (s *Service) AppendWeather(sample types.WeatherSample) error {
	return s.weather.Append(sample)
}

// HasStationData reports whether retained samples exist for a station.
func (s *Service) HasStationData(id uint64) bool {
	return s.status.HasSeries(id)
}

// Query returns the read-side service.
func (s *Service) Query() *query.Service { return s.query }

// Aggregates returns the continuous aggregate engine.
func (s *Service) Aggregates() *caggs.Engine { return s.aggregates }

// Retention returns the retention manager.
func (s *Service) Retention() *retention.Manager { return s.retention }

// Compression returns the compression manager.
func (s *Service) Compression() *compress.Manager { return s.compression }

// StatusStore exposes the status chunk store.
func (s *Service) StatusStore() *chunk.Store[types.StatusSample] { return s.status }

// WeatherStore exposes the weather chunk store.
func (s *Service) WeatherStore() *chunk.Store[types.WeatherSample] { return s.weather }

// Stats aggregates component statistics.
type Stats struct {
	Uptime      string                 `json:"uptime"`
	Status      chunk.Stats            `json:"status"`
	Weather     chunk.Stats            `json:"weather"`
	Compression compress.StatsSnapshot `json:"compression"`
	Retention   retention.ManagerStats `json:"retention"`
	Aggregates  caggs.Stats            `json:"aggregates"`
	Query       query.Stats            `json:"query"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Status:      s.status.Stats(),
		Weather:     s.weather.Stats(),
		Compression: s.compression.Snapshot(),
		Retention:   s.retention.Stats(),
		Aggregates:  s.aggregates.Stats(),
		Query:       s.query.Stats(),
	}
}
