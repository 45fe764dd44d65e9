// Package query is the read-side router. It serves point lookups from
// the latest pointers, range scans from the chunk store, hourly rollups
// from the materialized buckets with a raw-scan fallback for the
// not-yet-covered tail, and ad-hoc SQL over the Parquet chunk files
// through DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/caggs"
	"github.com/velostore/velostore/internal/storage/chunk"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/types"
)

// BucketSource reads materialized hourly buckets. The catalog
// implements it.
type BucketSource interface {
	StatusBuckets(ctx context.Context, fromMs, toMs int64, stationID *uint64) ([]types.StatusBucket, error)
	WeatherBuckets(ctx context.Context, fromMs, toMs int64) ([]types.WeatherBucket, error)
}

// Coverage reports how far the aggregate engine has materialized.
type Coverage interface {
	CoveredUntilMs() int64
}

// Service answers read queries.
type Service struct {
	cfg      *config.Config
	status   *chunk.Store[types.StatusSample]
	weather  *chunk.Store[types.WeatherSample]
	buckets  BucketSource
	coverage Coverage
	now      func() time.Time

	db *sql.DB // in-memory DuckDB for ad-hoc SQL

	mu    sync.Mutex
	stats Stats
}

// Stats holds query counters.
type Stats struct {
	Queries      int64 `json:"queries"`
	RowsReturned int64 `json:"rows_returned"`
	RawFallbacks int64 `json:"raw_fallbacks"`
	Errors       int64 `json:"errors"`
}

// New creates the query service with its own in-memory DuckDB session.
func New(
	cfg *config.Config,
	status *chunk.Store[types.StatusSample],
	weather *chunk.Store[types.WeatherSample],
	buckets BucketSource,
	coverage Coverage,
) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if cfg.Query.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg:      cfg,
		status:   status,
		weather:  weather,
		buckets:  buckets,
		coverage: coverage,
		now:      time.Now,
		db:       db,
	}, nil
}

// Close releases the DuckDB session.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LatestStatus returns the newest status sample for a station.
func (s *Service) LatestStatus(stationID uint64) (types.StatusSample, bool) {
	s.count(1)
	return s.status.Latest(stationID)
}

// AllLatestStatus returns the newest status sample for every station
// with retained data.
func (s *Service) AllLatestStatus() map[uint64]types.StatusSample {
	out := s.status.AllLatest()
	s.count(len(out))
	return out
}

// LatestWeather returns the newest weather observation.
func (s *Service) LatestWeather() (types.WeatherSample, bool) {
	s.count(1)
	return s.weather.Latest(0)
}

// RangeStatus returns raw status samples in [from, to), time ascending,
// optionally filtered to one station. Row count is capped by the
// configured maximum.
func (s *Service) RangeStatus(ctx context.Context, stationID *uint64, from, to time.Time) ([]types.StatusSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.status.Scan(from.UnixMilli(), to.UnixMilli(), stationID).Collect()
	if err != nil {
		s.fail()
	}
	rows = capStatus(rows, s.cfg.Query.MaxRows)
	s.count(len(rows))
	return rows, nil
}

// RangeWeather returns raw weather samples in [from, to), time ascending.
func (s *Service) RangeWeather(ctx context.Context, from, to time.Time) ([]types.WeatherSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.weather.Scan(from.UnixMilli(), to.UnixMilli(), nil).Collect()
	if err != nil {
		s.fail()
	}
	if max := s.cfg.Query.MaxRows; max > 0 && len(rows) > max {
		rows = rows[:max]
	}
	s.count(len(rows))
	return rows, nil
}

// HourlyStatus returns hourly rollups over [from, to). Bounds are
// truncated to hour boundaries. Hours already materialized come from
// the bucket store; the trailing tail past the coverage point is
// recomputed from raw chunks on the fly so fresh data is queryable
// before the next refresh lands.
func (s *Service) HourlyStatus(ctx context.Context, stationID *uint64, from, to time.Time) ([]types.StatusBucket, error) {
	fromMs := types.HourStart(from.UnixMilli())
	toMs := types.HourStart(to.UnixMilli())
	if toMs <= fromMs {
		return nil, nil
	}

	matEndMs := s.materializedEnd(fromMs, toMs)

	var out []types.StatusBucket
	if matEndMs > fromMs {
		stored, err := s.buckets.StatusBuckets(ctx, fromMs, matEndMs, stationID)
		if err != nil {
			s.fail()
			return nil, verrors.NewStorage("read status buckets", err)
		}
		out = stored
	}

	if matEndMs < toMs {
		s.fallback()
		rows, err := s.status.Scan(matEndMs, toMs, stationID).Collect()
		if err != nil {
			s.fail()
		}
		tail := caggs.ComputeStatusBuckets(rows, matEndMs, toMs, caggs.PercentileOpts{
			Enabled:  s.cfg.Aggregate.Percentile.Enabled,
			Accuracy: s.cfg.Aggregate.Percentile.Accuracy,
		})
		out = append(out, tail...)
	}

	s.count(len(out))
	return out, nil
}

// HourlyWeather is the weather counterpart of HourlyStatus.
func (s *Service) HourlyWeather(ctx context.Context, from, to time.Time) ([]types.WeatherBucket, error) {
	fromMs := types.HourStart(from.UnixMilli())
	toMs := types.HourStart(to.UnixMilli())
	if toMs <= fromMs {
		return nil, nil
	}

	matEndMs := s.materializedEnd(fromMs, toMs)

	var out []types.WeatherBucket
	if matEndMs > fromMs {
		stored, err := s.buckets.WeatherBuckets(ctx, fromMs, matEndMs)
		if err != nil {
			s.fail()
			return nil, verrors.NewStorage("read weather buckets", err)
		}
		out = stored
	}

	if matEndMs < toMs {
		s.fallback()
		rows, err := s.weather.Scan(matEndMs, toMs, nil).Collect()
		if err != nil {
			s.fail()
		}
		out = append(out, caggs.ComputeWeatherBuckets(rows, matEndMs, toMs)...)
	}

	s.count(len(out))
	return out, nil
}

// materializedEnd clamps the aggregate coverage point into [fromMs, toMs].
func (s *Service) materializedEnd(fromMs, toMs int64) int64 {
	covered := int64(0)
	if s.coverage != nil {
		covered = s.coverage.CoveredUntilMs()
	}
	if covered < fromMs {
		return fromMs
	}
	if covered > toMs {
		return toMs
	}
	return covered
}

// StaleStations returns the ids among the given registry whose newest
// status sample is missing or older than the staleness threshold.
func (s *Service) StaleStations(ids []uint64) []uint64 {
	cutoffMs := s.now().Add(-s.cfg.Query.StaleThreshold).UnixMilli()

	var stale []uint64
	for _, id := range ids {
		latest, ok := s.status.Latest(id)
		if !ok || latest.TimestampMs < cutoffMs {
			stale = append(stale, id)
		}
	}
	s.count(len(stale))
	return stale
}

// ParquetGlob returns the read_parquet pattern for a stream's
// compressed chunks, for use with ExecuteSQL.
func (s *Service) ParquetGlob(stream types.Stream) string {
	return filepath.Join(s.cfg.StreamDir(stream), "*.parquet")
}

// ExecuteSQL runs an ad-hoc query against DuckDB under the configured
// timeout. Only compressed chunks are visible to SQL, recent rows still
// in memory are not.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	if s.cfg.Query.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Query.Timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.fail()
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.count(len(results))
	return results, rows.Err()
}

// Stats returns a copy of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) count(rows int) {
	s.mu.Lock()
	s.stats.Queries++
	s.stats.RowsReturned += int64(rows)
	s.mu.Unlock()
}

func (s *Service) fallback() {
	s.mu.Lock()
	s.stats.RawFallbacks++
	s.mu.Unlock()
}

func (s *Service) fail() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

func capStatus(rows []types.StatusSample, max int) []types.StatusSample {
	if max > 0 && len(rows) > max {
		return rows[:max]
	}
	return rows
}
