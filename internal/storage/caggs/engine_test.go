package caggs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velostore/velostore/internal/storage/chunk"
	"github.com/velostore/velostore/internal/storage/parquet"
	"github.com/velostore/velostore/internal/storage/types"
)

type fakeSink struct {
	status   []types.StatusBucket
	weather  []types.WeatherBucket
	fromMs   int64
	toMs     int64
	coverage int64
	fail     error
}

func (f *fakeSink) ReplaceStatusBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.StatusBucket) error {
	if f.fail != nil {
		return f.fail
	}
	f.fromMs, f.toMs = fromMs, toMs
	f.status = buckets
	return nil
}

func (f *fakeSink) ReplaceWeatherBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.WeatherBucket) error {
	f.weather = buckets
	return nil
}

func (f *fakeSink) BucketCoverage(ctx context.Context) (int64, error) {
	return f.coverage, nil
}

func openTestStores(t *testing.T) (*chunk.Store[types.StatusSample], *chunk.Store[types.WeatherSample]) {
	t.Helper()
	status, err := chunk.Open(chunk.Options[types.StatusSample]{
		Stream: types.StreamStatus,
		Dir:    t.TempDir(),
		Width:  24 * time.Hour,
		Codec:  parquet.StatusCodec{},
	})
	if err != nil {
		t.Fatal(err)
	}
	weather, err := chunk.Open(chunk.Options[types.WeatherSample]{
		Stream: types.StreamWeather,
		Dir:    t.TempDir(),
		Width:  7 * 24 * time.Hour,
		Codec:  parquet.WeatherCodec{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		status.Close()
		weather.Close()
	})
	return status, weather
}

func TestRefresh_MaterializesWindow(t *testing.T) {
	status, weather := openTestStores(t)
	sink := &fakeSink{}
	now := time.Date(2025, 6, 1, 12, 37, 11, 0, time.UTC)

	eng := NewEngine(nil, status, weather, sink, nil)
	eng.now = func() time.Time { return now }

	// Default window is [now-3h, now-1h) hour-aligned: 09:00 to 11:00.
	hour9 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, bikes := range []int32{5, 7, 3, 9} {
		err := status.Append(types.StatusSample{
			TimestampMs:    hour9.Add(time.Duration(i*15) * time.Minute).UnixMilli(),
			StationID:      1,
			BikesAvailable: bikes,
			Mechanical:     bikes,
			DocksAvailable: 30 - bikes,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err := weather.Append(types.WeatherSample{
		TimestampMs: hour9.Add(30 * time.Minute).UnixMilli(),
		Temperature: 19.5,
		Humidity:    60,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Outside the window, must not appear.
	err = status.Append(types.StatusSample{
		TimestampMs: now.UnixMilli(),
		StationID:   1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	wantFrom := hour9.UnixMilli()
	wantTo := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC).UnixMilli()
	if sink.fromMs != wantFrom || sink.toMs != wantTo {
		t.Errorf("replace window = [%d, %d), want [%d, %d)", sink.fromMs, sink.toMs, wantFrom, wantTo)
	}
	if len(sink.status) != 1 {
		t.Fatalf("%d status buckets, want 1", len(sink.status))
	}
	b := sink.status[0]
	if b.Bikes.Count != 4 || b.Bikes.Avg != 6 {
		t.Errorf("bikes stats = %+v", b.Bikes)
	}
	if b.BikesP50 == nil {
		t.Error("percentiles enabled by default but not computed")
	}
	if len(sink.weather) != 1 || sink.weather[0].Temperature.Count != 1 {
		t.Errorf("weather buckets = %+v", sink.weather)
	}
	if eng.CoveredUntilMs() != wantTo {
		t.Errorf("CoveredUntilMs = %d, want %d", eng.CoveredUntilMs(), wantTo)
	}
	if eng.Stats().Refreshes != 1 {
		t.Errorf("Refreshes = %d, want 1", eng.Stats().Refreshes)
	}
}

func TestRefresh_SinkFailureCounted(t *testing.T) {
	status, weather := openTestStores(t)
	sink := &fakeSink{fail: errors.New("catalog down")}

	eng := NewEngine(nil, status, weather, sink, nil)
	eng.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	if err := eng.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failing sink")
	}
	if eng.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", eng.Stats().Failures)
	}
	if eng.CoveredUntilMs() != 0 {
		t.Errorf("coverage advanced past a failed refresh: %d", eng.CoveredUntilMs())
	}
}

func TestStart_SeedsCoverageFromSink(t *testing.T) {
	status, weather := openTestStores(t)
	covered := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC).UnixMilli()
	sink := &fakeSink{coverage: covered}

	eng := NewEngine(nil, status, weather, sink, nil)
	if err := eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	if eng.CoveredUntilMs() != covered {
		t.Errorf("CoveredUntilMs = %d, want seeded %d", eng.CoveredUntilMs(), covered)
	}
}
