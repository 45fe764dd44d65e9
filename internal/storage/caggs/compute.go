// Package caggs maintains the continuous hourly aggregates.
//
// Buckets are derived data. A refresh recomputes every bucket in its
// window from raw chunks and replaces the stored rows wholesale, so a
// refresh over the same window is idempotent and late-arriving raw
// samples are folded in by the next pass.
package caggs

import (
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/velostore/velostore/internal/storage/types"
)

const hourMs = int64(3_600_000)

// PercentileOpts enables DDSketch percentiles on status buckets.
type PercentileOpts struct {
	Enabled  bool
	Accuracy float64 // relative accuracy, e.g. 0.01
}

// ComputeStatusBuckets rolls raw status samples into hourly buckets over
// [fromMs, toMs). Both bounds must be hour-aligned. Samples outside the
// window are ignored. Results are ordered by (bucket start, station id).
func ComputeStatusBuckets(rows []types.StatusSample, fromMs, toMs int64, pct PercentileOpts) []types.StatusBucket {
	type key struct {
		bucket  int64
		station uint64
	}

	buckets := make(map[key]*types.StatusBucket)
	sketches := make(map[key]*ddsketch.DDSketch)

	for _, s := range rows {
		if s.TimestampMs < fromMs || s.TimestampMs >= toMs {
			continue
		}
		k := key{bucket: types.HourStart(s.TimestampMs), station: s.StationID}
		b := buckets[k]
		if b == nil {
			b = &types.StatusBucket{
				BucketStart: k.bucket,
				BucketEnd:   k.bucket + hourMs,
				StationID:   k.station,
			}
			buckets[k] = b
		}

		b.Bikes.Add(float64(s.BikesAvailable))
		b.Mechanical.Add(float64(s.Mechanical))
		b.Ebike.Add(float64(s.Ebike))
		b.Docks.Add(float64(s.DocksAvailable))

		if pct.Enabled {
			sk := sketches[k]
			if sk == nil {
				var err error
				sk, err = ddsketch.NewDefaultDDSketch(pct.Accuracy)
				if err != nil {
					continue
				}
				sketches[k] = sk
			}
			sk.Add(float64(s.BikesAvailable))
		}
	}

	out := make([]types.StatusBucket, 0, len(buckets))
	for k, b := range buckets {
		if sk := sketches[k]; sk != nil {
			p50, err50 := sk.GetValueAtQuantile(0.50)
			p95, err95 := sk.GetValueAtQuantile(0.95)
			if err50 == nil && err95 == nil {
				b.SetPercentiles(p50, p95)
			}
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BucketStart != out[j].BucketStart {
			return out[i].BucketStart < out[j].BucketStart
		}
		return out[i].StationID < out[j].StationID
	})
	return out
}

// ComputeWeatherBuckets rolls raw weather samples into hourly buckets
// over [fromMs, toMs), ordered by bucket start.
func ComputeWeatherBuckets(rows []types.WeatherSample, fromMs, toMs int64) []types.WeatherBucket {
	buckets := make(map[int64]*types.WeatherBucket)

	for _, s := range rows {
		if s.TimestampMs < fromMs || s.TimestampMs >= toMs {
			continue
		}
		start := types.HourStart(s.TimestampMs)
		b := buckets[start]
		if b == nil {
			b = &types.WeatherBucket{BucketStart: start, BucketEnd: start + hourMs}
			buckets[start] = b
		}
		b.Temperature.Add(s.Temperature)
		b.Precipitation.Add(s.Precipitation)
		b.WindSpeed.Add(s.WindSpeed)
	}

	out := make([]types.WeatherBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out
}
