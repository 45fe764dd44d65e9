// Package engine is the top-level facade. It wires the catalog, the
// storage service, sample validation and the spatial index behind one
// API surface used by the daemon.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velostore/velostore/internal/catalog"
	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/geo"
	"github.com/velostore/velostore/internal/storage"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/query"
	"github.com/velostore/velostore/internal/storage/types"
	"github.com/velostore/velostore/internal/validation"
)

// stationSet is the live registry membership snapshot shared with the
// validator. Refreshed on every registry mutation.
type stationSet struct {
	mu  sync.RWMutex
	ids map[uint64]struct{}
}

func (s *stationSet) HasStation(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *stationSet) replace(ids map[uint64]struct{}) {
	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
}

func (s *stationSet) list() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// Engine is the assembled system.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	catalog   *catalog.Store
	storage   *storage.Service
	stations  *stationSet
	validator *validation.Validator
	spatial   *geo.Index
}

// New opens the catalog, builds the storage service on top of it and
// loads the station registry into the validator and the spatial index.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	cat, err := catalog.Open(catalog.Config{Path: cfg.CatalogPath()})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	store, err := storage.New(cfg, cat, cat.PurgePredictionsBefore, logger)
	if err != nil {
		cat.Close()
		return nil, err
	}

	set := &stationSet{ids: make(map[uint64]struct{})}
	e := &Engine{
		cfg:       cfg,
		log:       logger,
		catalog:   cat,
		storage:   store,
		stations:  set,
		validator: validation.New(set),
		spatial:   geo.NewIndex(),
	}

	if err := e.reloadRegistry(context.Background()); err != nil {
		store.Stop()
		cat.Close()
		return nil, err
	}
	return e, nil
}

// Start launches the storage background managers.
func (e *Engine) Start() error {
	return e.storage.Start()
}

// Stop shuts everything down.
func (e *Engine) Stop() error {
	err := e.storage.Stop()
	if cerr := e.catalog.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// reloadRegistry refreshes the validator set and the spatial index from
// the catalog.
func (e *Engine) reloadRegistry(ctx context.Context) error {
	stations, err := e.catalog.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("load station registry: %w", err)
	}

	ids := make(map[uint64]struct{}, len(stations))
	positions := make([]geo.Station, 0, len(stations))
	for _, st := range stations {
		ids[st.ID] = struct{}{}
		positions = append(positions, geo.Station{ID: st.ID, Lat: st.Lat, Lon: st.Lon})
	}
	e.stations.replace(ids)
	e.spatial.Rebuild(positions)
	return nil
}

// AppendStatus validates and stores one station status sample.
func (e *Engine) AppendStatus(sample types.StatusSample) error {
	if err := e.validator.Status(sample); err != nil {
		return err
	}
	return e.storage.AppendStatus(sample)
}

// BatchResult reports a batch append outcome. Rejected rows never abort
// the batch.
type BatchResult struct {
	Accepted int
	Rejected []RejectedSample
}

// RejectedSample pairs a rejected row's key with its reason.
type RejectedSample struct {
	TimestampMs int64
	StationID   uint64
	Err         error
}

// AppendStatusBatch stores a batch, skipping invalid rows.
func (e *Engine) AppendStatusBatch(samples []types.StatusSample) BatchResult {
	var res BatchResult
	for _, s := range samples {
		if err := e.AppendStatus(s); err != nil {
			res.Rejected = append(res.Rejected, RejectedSample{
				TimestampMs: s.TimestampMs,
				StationID:   s.StationID,
				Err:         err,
			})
			continue
		}
		res.Accepted++
	}
	if len(res.Rejected) > 0 {
		e.log.Warn("batch append rejected samples",
			"accepted", res.Accepted, "rejected", len(res.Rejected))
	}
	return res
}

// AppendWeather validates and stores one weather observation.
func (e *Engine) AppendWeather(sample types.WeatherSample) error {
	if err := e.validator.Weather(sample); err != nil {
		return err
	}
	return e.storage.AppendWeather(sample)
}

// UpsertStation registers or updates a station and refreshes the
// derived indexes.
func (e *Engine) UpsertStation(ctx context.Context, st *catalog.Station) error {
	if err := e.catalog.UpsertStation(ctx, st); err != nil {
		return err
	}
	return e.reloadRegistry(ctx)
}

// DeleteStation removes a station. The delete is refused with
// ErrStationInUse while retained samples still reference it; retention
// eventually drains them and a retry succeeds.
func (e *Engine) DeleteStation(ctx context.Context, id uint64) error {
	if err := e.catalog.DeleteStation(ctx, id, e.storage.HasStationData); err != nil {
		return err
	}
	return e.reloadRegistry(ctx)
}

// GetStation retrieves a station by id.
func (e *Engine) GetStation(ctx context.Context, id uint64) (*catalog.Station, error) {
	return e.catalog.GetStation(ctx, id)
}

// ListStations returns the full registry.
func (e *Engine) ListStations(ctx context.Context) ([]*catalog.Station, error) {
	return e.catalog.ListStations(ctx)
}

// NearestStations returns the k stations closest to the given one.
func (e *Engine) NearestStations(id uint64, k int) ([]geo.Neighbor, error) {
	return e.spatial.Nearest(id, k)
}

// NearestToPoint returns the k stations closest to a coordinate.
func (e *Engine) NearestToPoint(lat, lon float64, k int) []geo.Neighbor {
	return e.spatial.NearestPoint(lat, lon, k)
}

// InsertPredictions stores a forecast batch.
func (e *Engine) InsertPredictions(ctx context.Context, preds []catalog.Prediction) error {
	return e.catalog.InsertPredictions(ctx, preds)
}

// QueryPredictions returns forecasts for a station in [from, to).
func (e *Engine) QueryPredictions(ctx context.Context, stationID uint64, from, to time.Time) ([]catalog.Prediction, error) {
	if !e.stations.HasStation(stationID) {
		return nil, verrors.NewUnknownStation(stationID)
	}
	return e.catalog.QueryPredictions(ctx, stationID, from.UnixMilli(), to.UnixMilli())
}

// CreateModelRun registers a model run.
func (e *Engine) CreateModelRun(ctx context.Context, run *catalog.ModelRun) error {
	return e.catalog.CreateModelRun(ctx, run)
}

// CompleteModelRun marks a run completed.
func (e *Engine) CompleteModelRun(ctx context.Context, id int64, rowsTrained int64, metrics map[string]float64) error {
	return e.catalog.CompleteModelRun(ctx, id, rowsTrained, metrics)
}

// FailModelRun marks a run failed.
func (e *Engine) FailModelRun(ctx context.Context, id int64) error {
	return e.catalog.FailModelRun(ctx, id)
}

// GetModelRun retrieves a run by id.
func (e *Engine) GetModelRun(ctx context.Context, id int64) (*catalog.ModelRun, error) {
	return e.catalog.GetModelRun(ctx, id)
}

// Query returns the read-side service.
func (e *Engine) Query() *query.Service {
	return e.storage.Query()
}

// StaleStations reports registered stations without a fresh status
// sample.
func (e *Engine) StaleStations() []uint64 {
	return e.storage.Query().StaleStations(e.stations.list())
}

// Storage exposes the storage service for operational tooling.
func (e *Engine) Storage() *storage.Service { return e.storage }

// Catalog exposes the metadata store.
func (e *Engine) Catalog() *catalog.Store { return e.catalog }

// Stats aggregates engine statistics.
func (e *Engine) Stats() storage.Stats {
	return e.storage.Stats()
}
