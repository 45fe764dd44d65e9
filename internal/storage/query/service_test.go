package query

import (
	"context"
	"testing"
	"time"

	"github.com/velostore/velostore/internal/storage/chunk"
	"github.com/velostore/velostore/internal/storage/config"
	"github.com/velostore/velostore/internal/storage/parquet"
	"github.com/velostore/velostore/internal/storage/types"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeBuckets struct {
	status  []types.StatusBucket
	weather []types.WeatherBucket

	statusFrom, statusTo int64
}

func (f *fakeBuckets) StatusBuckets(ctx context.Context, fromMs, toMs int64, stationID *uint64) ([]types.StatusBucket, error) {
	f.statusFrom, f.statusTo = fromMs, toMs
	return f.status, nil
}

func (f *fakeBuckets) WeatherBuckets(ctx context.Context, fromMs, toMs int64) ([]types.WeatherBucket, error) {
	return f.weather, nil
}

type fixedCoverage int64

func (c fixedCoverage) CoveredUntilMs() int64 { return int64(c) }

func openStores(t *testing.T) (*chunk.Store[types.StatusSample], *chunk.Store[types.WeatherSample]) {
	t.Helper()
	status, err := chunk.Open(chunk.Options[types.StatusSample]{
		Stream: types.StreamStatus,
		Dir:    t.TempDir(),
		Width:  24 * time.Hour,
		Codec:  parquet.StatusCodec{},
	})
	if err != nil {
		t.Fatalf("open status store: %v", err)
	}
	weather, err := chunk.Open(chunk.Options[types.WeatherSample]{
		Stream: types.StreamWeather,
		Dir:    t.TempDir(),
		Width:  7 * 24 * time.Hour,
		Codec:  parquet.WeatherCodec{},
	})
	if err != nil {
		t.Fatalf("open weather store: %v", err)
	}
	t.Cleanup(func() {
		status.Close()
		weather.Close()
	})
	return status, weather
}

func newService(t *testing.T, buckets BucketSource, coverage Coverage) (*Service, *chunk.Store[types.StatusSample], *chunk.Store[types.WeatherSample]) {
	t.Helper()
	status, weather := openStores(t)
	svc, err := New(config.DefaultConfig(), status, weather, buckets, coverage)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, status, weather
}

func appendStatus(t *testing.T, store *chunk.Store[types.StatusSample], stationID uint64, at time.Time, bikes int32) {
	t.Helper()
	err := store.Append(types.StatusSample{
		TimestampMs:    at.UnixMilli(),
		StationID:      stationID,
		BikesAvailable: bikes,
		Mechanical:     bikes,
		DocksAvailable: 30 - bikes,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestHourlyStatus_RoutesStoredAndTail(t *testing.T) {
	hour := base.Add(10 * time.Hour)
	covered := hour.Add(time.Hour) // one materialized hour, one raw

	fake := &fakeBuckets{status: []types.StatusBucket{
		{BucketStart: hour.UnixMilli(), BucketEnd: covered.UnixMilli(), StationID: 1},
	}}
	svc, status, _ := newService(t, fake, fixedCoverage(covered.UnixMilli()))

	// Raw samples in the uncovered second hour.
	appendStatus(t, status, 1, covered.Add(5*time.Minute), 4)
	appendStatus(t, status, 1, covered.Add(20*time.Minute), 6)

	got, err := svc.HourlyStatus(context.Background(), nil, hour, covered.Add(time.Hour))
	if err != nil {
		t.Fatalf("hourly: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("%d buckets, want 2 (1 stored + 1 recomputed)", len(got))
	}
	if got[0].BucketStart != hour.UnixMilli() {
		t.Errorf("stored bucket start = %d", got[0].BucketStart)
	}
	if got[1].BucketStart != covered.UnixMilli() || got[1].Bikes.Count != 2 {
		t.Errorf("tail bucket = %+v", got[1])
	}
	if fake.statusFrom != hour.UnixMilli() || fake.statusTo != covered.UnixMilli() {
		t.Errorf("bucket read range = [%d, %d), want [%d, %d)",
			fake.statusFrom, fake.statusTo, hour.UnixMilli(), covered.UnixMilli())
	}
	if svc.Stats().RawFallbacks != 1 {
		t.Errorf("RawFallbacks = %d, want 1", svc.Stats().RawFallbacks)
	}
}

func TestHourlyStatus_FullyCovered(t *testing.T) {
	hour := base.Add(10 * time.Hour)
	to := hour.Add(2 * time.Hour)

	fake := &fakeBuckets{status: []types.StatusBucket{
		{BucketStart: hour.UnixMilli(), BucketEnd: hour.Add(time.Hour).UnixMilli(), StationID: 1},
		{BucketStart: hour.Add(time.Hour).UnixMilli(), BucketEnd: to.UnixMilli(), StationID: 1},
	}}
	// Coverage extends past the query window.
	svc, _, _ := newService(t, fake, fixedCoverage(to.Add(time.Hour).UnixMilli()))

	got, err := svc.HourlyStatus(context.Background(), nil, hour, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("%d buckets, want 2", len(got))
	}
	if svc.Stats().RawFallbacks != 0 {
		t.Errorf("RawFallbacks = %d, want 0", svc.Stats().RawFallbacks)
	}
}

func TestHourlyStatus_NoCoverageComputesFromRaw(t *testing.T) {
	hour := base.Add(10 * time.Hour)

	fake := &fakeBuckets{}
	svc, status, _ := newService(t, fake, fixedCoverage(0))

	appendStatus(t, status, 1, hour.Add(10*time.Minute), 3)
	appendStatus(t, status, 1, hour.Add(40*time.Minute), 9)

	got, err := svc.HourlyStatus(context.Background(), nil, hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("%d buckets, want 1", len(got))
	}
	b := got[0]
	if b.Bikes.Count != 2 || b.Bikes.Min != 3 || b.Bikes.Max != 9 {
		t.Errorf("bucket stats = %+v", b.Bikes)
	}
}

func TestHourlyStatus_EmptyWindow(t *testing.T) {
	svc, _, _ := newService(t, &fakeBuckets{}, fixedCoverage(0))

	at := base.Add(10*time.Hour + 30*time.Minute)
	got, err := svc.HourlyStatus(context.Background(), nil, at, at)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for an empty window, got %d buckets", len(got))
	}
}

func TestRangeStatus_CapsRows(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Query.MaxRows = 3
	status, weather := openStores(t)
	svc, err := New(cfg, status, weather, &fakeBuckets{}, fixedCoverage(0))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	for i := 0; i < 10; i++ {
		appendStatus(t, status, 1, base.Add(time.Duration(i)*time.Minute), int32(i))
	}

	got, err := svc.RangeStatus(context.Background(), nil, base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("%d rows, want cap of 3", len(got))
	}
	if got[0].TimestampMs != base.UnixMilli() {
		t.Errorf("rows not time ascending: first ts = %d", got[0].TimestampMs)
	}
}

func TestStaleStations(t *testing.T) {
	svc, status, _ := newService(t, &fakeBuckets{}, fixedCoverage(0))
	now := base.Add(24 * time.Hour)
	svc.now = func() time.Time { return now }

	appendStatus(t, status, 1, now.Add(-10*time.Minute), 5) // fresh
	appendStatus(t, status, 2, now.Add(-3*time.Hour), 5)    // stale

	stale := svc.StaleStations([]uint64{1, 2, 3})
	if len(stale) != 2 || stale[0] != 2 || stale[1] != 3 {
		t.Errorf("StaleStations = %v, want [2 3]", stale)
	}
}

func TestExecuteSQL(t *testing.T) {
	svc, _, _ := newService(t, &fakeBuckets{}, fixedCoverage(0))

	rows, err := svc.ExecuteSQL(context.Background(), "SELECT 42 AS answer")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("%d rows, want 1", len(rows))
	}
	if _, ok := rows[0]["answer"]; !ok {
		t.Errorf("missing column: %v", rows[0])
	}

	if _, err := svc.ExecuteSQL(context.Background(), "SELECT FROM nowhere"); err == nil {
		t.Error("expected error for invalid SQL")
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", svc.Stats().Errors)
	}
}
