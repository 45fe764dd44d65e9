package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velostore/velostore/internal/catalog"
	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func registerStation(t *testing.T, e *Engine, id uint64, code string, lat, lon float64) {
	t.Helper()
	err := e.UpsertStation(context.Background(), &catalog.Station{
		ID:       id,
		Code:     code,
		Name:     "Station " + code,
		Lat:      lat,
		Lon:      lon,
		Capacity: 30,
	})
	if err != nil {
		t.Fatalf("register station %d: %v", id, err)
	}
}

func statusSample(stationID uint64, ts time.Time, bikes int32) types.StatusSample {
	return types.StatusSample{
		TimestampMs:    ts.UnixMilli(),
		StationID:      stationID,
		BikesAvailable: bikes,
		Mechanical:     bikes,
		DocksAvailable: 30 - bikes,
		IsInstalled:    true,
		IsRenting:      true,
		IsReturning:    true,
	}
}

func TestAppendStatus_ValidatesBeforeStorage(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	now := time.Now().UTC()

	if err := e.AppendStatus(statusSample(1, now, 5)); err != nil {
		t.Fatalf("append: %v", err)
	}

	err := e.AppendStatus(statusSample(99, now, 5))
	if !errors.Is(err, verrors.ErrUnknownStation) {
		t.Errorf("unregistered station: expected ErrUnknownStation, got %v", err)
	}

	bad := statusSample(1, now, 5)
	bad.Ebike = 3 // breaks the count constraint
	err = e.AppendStatus(bad)
	if !errors.Is(err, verrors.ErrInvalidSample) {
		t.Errorf("inconsistent counts: expected ErrInvalidSample, got %v", err)
	}
}

func TestAppendStatusBatch_SkipsRejectedRows(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	now := time.Now().UTC()

	res := e.AppendStatusBatch([]types.StatusSample{
		statusSample(1, now, 5),
		statusSample(99, now, 5),
		statusSample(1, now.Add(time.Minute), 6),
	})
	if res.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", res.Accepted)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(res.Rejected))
	}
	if res.Rejected[0].StationID != 99 {
		t.Errorf("rejected station = %d, want 99", res.Rejected[0].StationID)
	}
	if !errors.Is(res.Rejected[0].Err, verrors.ErrUnknownStation) {
		t.Errorf("rejection reason = %v", res.Rejected[0].Err)
	}
}

func TestAppendWeather(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	sample := types.WeatherSample{
		TimestampMs: now.UnixMilli(),
		Temperature: 18.5,
		Humidity:    60,
		CloudCover:  40,
	}
	if err := e.AppendWeather(sample); err != nil {
		t.Fatalf("append: %v", err)
	}

	sample.Humidity = 150
	sample.TimestampMs = now.Add(time.Minute).UnixMilli()
	if err := e.AppendWeather(sample); !errors.Is(err, verrors.ErrInvalidSample) {
		t.Errorf("expected ErrInvalidSample, got %v", err)
	}
}

func TestDeleteStation_RefusedWhileDataRetained(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	registerStation(t, e, 2, "A02", 48.86, 2.35)
	now := time.Now().UTC()

	if err := e.AppendStatus(statusSample(1, now, 5)); err != nil {
		t.Fatal(err)
	}

	err := e.DeleteStation(context.Background(), 1)
	if !errors.Is(err, verrors.ErrStationInUse) {
		t.Errorf("expected ErrStationInUse, got %v", err)
	}

	// Station 2 has no samples, its delete goes through and the derived
	// indexes drop it immediately.
	if err := e.DeleteStation(context.Background(), 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = e.AppendStatus(statusSample(2, now, 5))
	if !errors.Is(err, verrors.ErrUnknownStation) {
		t.Errorf("deleted station still accepted: %v", err)
	}
}

func TestUpsertStation_RefreshesDerivedIndexes(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	err := e.AppendStatus(statusSample(1, now, 5))
	if !errors.Is(err, verrors.ErrUnknownStation) {
		t.Fatalf("expected ErrUnknownStation before registration, got %v", err)
	}

	registerStation(t, e, 1, "A01", 48.85, 2.35)
	if err := e.AppendStatus(statusSample(1, now, 5)); err != nil {
		t.Errorf("append after registration: %v", err)
	}
}

func TestNearestStations(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	registerStation(t, e, 2, "A02", 48.86, 2.35)
	registerStation(t, e, 3, "A03", 48.90, 2.40)

	got, err := e.NearestStations(1, 1)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(got) != 1 || got[0].Station.ID != 2 {
		t.Errorf("nearest to 1 = %+v, want station 2", got)
	}

	point := e.NearestToPoint(48.895, 2.395, 1)
	if len(point) != 1 || point[0].Station.ID != 3 {
		t.Errorf("nearest to point = %+v, want station 3", point)
	}

	if _, err := e.NearestStations(99, 1); !errors.Is(err, verrors.ErrStationNotFound) {
		t.Errorf("expected ErrStationNotFound, got %v", err)
	}
}

func TestPredictions_EndToEnd(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	ctx := context.Background()

	run := &catalog.ModelRun{Model: "bikes-lgbm", Version: "1.0.0"}
	if err := e.CreateModelRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Minute)
	preds := []catalog.Prediction{
		{
			TargetMs:            now.Add(time.Hour).UnixMilli(),
			StationID:           1,
			HorizonMin:          60,
			ModelName:           "bikes-lgbm",
			ModelVersion:        "1.0.0",
			PredictedMechanical: 3.0,
			PredictedEbike:      1.5,
			PredictedTotal:      4.5,
			PredictedDocks:      15.5,
			Confidence:          0.85,
			ModelRunID:          run.ID,
			GeneratedMs:         now.UnixMilli(),
		},
	}
	if err := e.InsertPredictions(ctx, preds); err != nil {
		t.Fatalf("insert predictions: %v", err)
	}
	if err := e.CompleteModelRun(ctx, run.ID, 1000, map[string]float64{"mae": 2.1}); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, err := e.QueryPredictions(ctx, 1, now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("query predictions: %v", err)
	}
	if len(got) != 1 || got[0].PredictedTotal != 4.5 || got[0].ModelVersion != "1.0.0" {
		t.Errorf("predictions = %+v", got)
	}

	if _, err := e.QueryPredictions(ctx, 99, now, now.Add(time.Hour)); !errors.Is(err, verrors.ErrUnknownStation) {
		t.Errorf("expected ErrUnknownStation, got %v", err)
	}
}

func TestQuery_LatestStatus(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	now := time.Now().UTC()

	if err := e.AppendStatus(statusSample(1, now.Add(-time.Minute), 3)); err != nil {
		t.Fatal(err)
	}
	if err := e.AppendStatus(statusSample(1, now, 7)); err != nil {
		t.Fatal(err)
	}

	got, ok := e.Query().LatestStatus(1)
	if !ok {
		t.Fatal("no latest sample for station 1")
	}
	if got.BikesAvailable != 7 {
		t.Errorf("BikesAvailable = %d, want 7", got.BikesAvailable)
	}
}

func TestStaleStations(t *testing.T) {
	e := newTestEngine(t)
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	registerStation(t, e, 2, "A02", 48.86, 2.35)

	if err := e.AppendStatus(statusSample(1, time.Now().UTC(), 5)); err != nil {
		t.Fatal(err)
	}

	stale := e.StaleStations()
	if len(stale) != 1 || stale[0] != 2 {
		t.Errorf("StaleStations = %v, want [2]", stale)
	}
}

func TestEngineRestart_KeepsData(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	registerStation(t, e, 1, "A01", 48.85, 2.35)
	now := time.Now().UTC()
	if err := e.AppendStatus(statusSample(1, now, 5)); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	e2, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Stop()

	got, ok := e2.Query().LatestStatus(1)
	if !ok {
		t.Fatal("no latest sample after restart")
	}
	if got.TimestampMs != now.UnixMilli() {
		t.Errorf("latest ts = %d, want %d", got.TimestampMs, now.UnixMilli())
	}
}
