package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velostore/velostore/internal/storage/types"
)

// ReplaceStatusBuckets atomically replaces all stored status buckets
// whose start falls in [fromMs, toMs) with the given rows. This is the
// idempotent commit point of an aggregate refresh.
func (s *Store) ReplaceStatusBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.StatusBucket) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hourly_status WHERE bucket_start >= ? AND bucket_start < ?`,
			fromMs, toMs,
		); err != nil {
			return fmt.Errorf("clear status buckets: %w", err)
		}
		if len(buckets) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hourly_status (
				bucket_start, bucket_end, station_id,
				bikes_count, bikes_sum, bikes_min, bikes_max, bikes_avg,
				mech_count, mech_sum, mech_min, mech_max, mech_avg,
				ebike_count, ebike_sum, ebike_min, ebike_max, ebike_avg,
				docks_count, docks_sum, docks_min, docks_max, docks_avg,
				bikes_p50, bikes_p95
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare bucket insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range buckets {
			if _, err := stmt.ExecContext(ctx,
				b.BucketStart, b.BucketEnd, b.StationID,
				b.Bikes.Count, b.Bikes.Sum, b.Bikes.Min, b.Bikes.Max, b.Bikes.Avg,
				b.Mechanical.Count, b.Mechanical.Sum, b.Mechanical.Min, b.Mechanical.Max, b.Mechanical.Avg,
				b.Ebike.Count, b.Ebike.Sum, b.Ebike.Min, b.Ebike.Max, b.Ebike.Avg,
				b.Docks.Count, b.Docks.Sum, b.Docks.Min, b.Docks.Max, b.Docks.Avg,
				nullableFloat(b.BikesP50), nullableFloat(b.BikesP95),
			); err != nil {
				return fmt.Errorf("insert status bucket: %w", err)
			}
		}
		return nil
	})
}

// ReplaceWeatherBuckets is the weather counterpart of
// ReplaceStatusBuckets.
func (s *Store) ReplaceWeatherBuckets(ctx context.Context, fromMs, toMs int64, buckets []types.WeatherBucket) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hourly_weather WHERE bucket_start >= ? AND bucket_start < ?`,
			fromMs, toMs,
		); err != nil {
			return fmt.Errorf("clear weather buckets: %w", err)
		}
		if len(buckets) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hourly_weather (
				bucket_start, bucket_end,
				temp_count, temp_sum, temp_min, temp_max, temp_avg,
				precip_count, precip_sum, precip_min, precip_max, precip_avg,
				wind_count, wind_sum, wind_min, wind_max, wind_avg
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare bucket insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range buckets {
			if _, err := stmt.ExecContext(ctx,
				b.BucketStart, b.BucketEnd,
				b.Temperature.Count, b.Temperature.Sum, b.Temperature.Min, b.Temperature.Max, b.Temperature.Avg,
				b.Precipitation.Count, b.Precipitation.Sum, b.Precipitation.Min, b.Precipitation.Max, b.Precipitation.Avg,
				b.WindSpeed.Count, b.WindSpeed.Sum, b.WindSpeed.Min, b.WindSpeed.Max, b.WindSpeed.Avg,
			); err != nil {
				return fmt.Errorf("insert weather bucket: %w", err)
			}
		}
		return nil
	})
}

// BucketCoverage returns the exclusive upper bound of stored buckets
// across both streams, 0 when no buckets exist. A refresh replaces
// status and weather over the same window, so a sparse stream does not
// drag the bound back.
func (s *Store) BucketCoverage(ctx context.Context) (int64, error) {
	var covered sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT max(v) FROM (
			SELECT max(bucket_end) AS v FROM hourly_status
			UNION ALL
			SELECT max(bucket_end) AS v FROM hourly_weather
		) bounds
	`).Scan(&covered)
	if err != nil {
		return 0, fmt.Errorf("query bucket coverage: %w", err)
	}
	if !covered.Valid {
		return 0, nil
	}
	return covered.Int64, nil
}

// StatusBuckets returns stored status buckets with starts in
// [fromMs, toMs), optionally filtered to one station, ordered by
// (bucket start, station id).
func (s *Store) StatusBuckets(ctx context.Context, fromMs, toMs int64, stationID *uint64) ([]types.StatusBucket, error) {
	q := `
		SELECT bucket_start, bucket_end, station_id,
			bikes_count, bikes_sum, bikes_min, bikes_max, bikes_avg,
			mech_count, mech_sum, mech_min, mech_max, mech_avg,
			ebike_count, ebike_sum, ebike_min, ebike_max, ebike_avg,
			docks_count, docks_sum, docks_min, docks_max, docks_avg,
			bikes_p50, bikes_p95
		FROM hourly_status
		WHERE bucket_start >= ? AND bucket_start < ?`
	args := []any{fromMs, toMs}
	if stationID != nil {
		q += ` AND station_id = ?`
		args = append(args, *stationID)
	}
	q += ` ORDER BY bucket_start, station_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query status buckets: %w", err)
	}
	defer rows.Close()

	var out []types.StatusBucket
	for rows.Next() {
		var b types.StatusBucket
		var p50, p95 sql.NullFloat64
		if err := rows.Scan(
			&b.BucketStart, &b.BucketEnd, &b.StationID,
			&b.Bikes.Count, &b.Bikes.Sum, &b.Bikes.Min, &b.Bikes.Max, &b.Bikes.Avg,
			&b.Mechanical.Count, &b.Mechanical.Sum, &b.Mechanical.Min, &b.Mechanical.Max, &b.Mechanical.Avg,
			&b.Ebike.Count, &b.Ebike.Sum, &b.Ebike.Min, &b.Ebike.Max, &b.Ebike.Avg,
			&b.Docks.Count, &b.Docks.Sum, &b.Docks.Min, &b.Docks.Max, &b.Docks.Avg,
			&p50, &p95,
		); err != nil {
			return nil, fmt.Errorf("scan status bucket: %w", err)
		}
		if p50.Valid && p95.Valid {
			b.SetPercentiles(p50.Float64, p95.Float64)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// WeatherBuckets returns stored weather buckets with starts in
// [fromMs, toMs) ordered by bucket start.
func (s *Store) WeatherBuckets(ctx context.Context, fromMs, toMs int64) ([]types.WeatherBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket_start, bucket_end,
			temp_count, temp_sum, temp_min, temp_max, temp_avg,
			precip_count, precip_sum, precip_min, precip_max, precip_avg,
			wind_count, wind_sum, wind_min, wind_max, wind_avg
		FROM hourly_weather
		WHERE bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start
	`, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("query weather buckets: %w", err)
	}
	defer rows.Close()

	var out []types.WeatherBucket
	for rows.Next() {
		var b types.WeatherBucket
		if err := rows.Scan(
			&b.BucketStart, &b.BucketEnd,
			&b.Temperature.Count, &b.Temperature.Sum, &b.Temperature.Min, &b.Temperature.Max, &b.Temperature.Avg,
			&b.Precipitation.Count, &b.Precipitation.Sum, &b.Precipitation.Min, &b.Precipitation.Max, &b.Precipitation.Avg,
			&b.WindSpeed.Count, &b.WindSpeed.Sum, &b.WindSpeed.Min, &b.WindSpeed.Max, &b.WindSpeed.Avg,
		); err != nil {
			return nil, fmt.Errorf("scan weather bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
