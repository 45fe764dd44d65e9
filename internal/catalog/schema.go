package catalog

import (
	"context"
	"fmt"
)

// migrate applies the catalog schema. Every statement is idempotent.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "stations",
			sql: `CREATE TABLE IF NOT EXISTS stations (
				id UBIGINT PRIMARY KEY,
				code VARCHAR NOT NULL UNIQUE,
				name VARCHAR NOT NULL,
				lat DOUBLE NOT NULL,
				lon DOUBLE NOT NULL,
				capacity INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT now(),
				updated_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "model_runs_seq",
			sql:  `CREATE SEQUENCE IF NOT EXISTS model_runs_id_seq`,
		},
		{
			name: "model_runs",
			sql: `CREATE TABLE IF NOT EXISTS model_runs (
				id BIGINT PRIMARY KEY DEFAULT nextval('model_runs_id_seq'),
				model VARCHAR NOT NULL,
				version VARCHAR NOT NULL,
				status VARCHAR NOT NULL DEFAULT 'running',
				started_at TIMESTAMP DEFAULT now(),
				completed_at TIMESTAMP,
				rows_trained BIGINT DEFAULT 0,
				metrics JSON
			)`,
		},
		{
			name: "predictions",
			sql: `CREATE TABLE IF NOT EXISTS predictions (
				target_ms BIGINT NOT NULL,
				station_id UBIGINT NOT NULL,
				horizon_min INTEGER NOT NULL,
				model_name VARCHAR NOT NULL,
				model_version VARCHAR NOT NULL,
				predicted_mechanical DOUBLE NOT NULL,
				predicted_ebike DOUBLE NOT NULL,
				predicted_total DOUBLE NOT NULL,
				predicted_docks DOUBLE NOT NULL,
				confidence DOUBLE NOT NULL,
				model_run_id BIGINT NOT NULL,
				generated_ms BIGINT NOT NULL,
				PRIMARY KEY (target_ms, station_id, horizon_min, model_name, model_version)
			)`,
		},
		{
			name: "idx_predictions_station",
			sql:  `CREATE INDEX IF NOT EXISTS idx_predictions_station ON predictions(station_id, target_ms)`,
		},
		{
			name: "idx_predictions_generated",
			sql:  `CREATE INDEX IF NOT EXISTS idx_predictions_generated ON predictions(generated_ms)`,
		},
		{
			name: "hourly_status",
			sql: `CREATE TABLE IF NOT EXISTS hourly_status (
				bucket_start BIGINT NOT NULL,
				bucket_end BIGINT NOT NULL,
				station_id UBIGINT NOT NULL,
				bikes_count BIGINT NOT NULL,
				bikes_sum DOUBLE NOT NULL,
				bikes_min DOUBLE NOT NULL,
				bikes_max DOUBLE NOT NULL,
				bikes_avg DOUBLE NOT NULL,
				mech_count BIGINT NOT NULL,
				mech_sum DOUBLE NOT NULL,
				mech_min DOUBLE NOT NULL,
				mech_max DOUBLE NOT NULL,
				mech_avg DOUBLE NOT NULL,
				ebike_count BIGINT NOT NULL,
				ebike_sum DOUBLE NOT NULL,
				ebike_min DOUBLE NOT NULL,
				ebike_max DOUBLE NOT NULL,
				ebike_avg DOUBLE NOT NULL,
				docks_count BIGINT NOT NULL,
				docks_sum DOUBLE NOT NULL,
				docks_min DOUBLE NOT NULL,
				docks_max DOUBLE NOT NULL,
				docks_avg DOUBLE NOT NULL,
				bikes_p50 DOUBLE,
				bikes_p95 DOUBLE,
				PRIMARY KEY (bucket_start, station_id)
			)`,
		},
		{
			name: "hourly_weather",
			sql: `CREATE TABLE IF NOT EXISTS hourly_weather (
				bucket_start BIGINT PRIMARY KEY,
				bucket_end BIGINT NOT NULL,
				temp_count BIGINT NOT NULL,
				temp_sum DOUBLE NOT NULL,
				temp_min DOUBLE NOT NULL,
				temp_max DOUBLE NOT NULL,
				temp_avg DOUBLE NOT NULL,
				precip_count BIGINT NOT NULL,
				precip_sum DOUBLE NOT NULL,
				precip_min DOUBLE NOT NULL,
				precip_max DOUBLE NOT NULL,
				precip_avg DOUBLE NOT NULL,
				wind_count BIGINT NOT NULL,
				wind_sum DOUBLE NOT NULL,
				wind_min DOUBLE NOT NULL,
				wind_max DOUBLE NOT NULL,
				wind_avg DOUBLE NOT NULL
			)`,
		},
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
