package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	verrors "github.com/velostore/velostore/internal/errors"
)

// Prediction is one forecast row: the expected fleet breakdown at a
// station at a target instant. Rows are keyed by (target, station,
// horizon, model name, model version) so re-running the same model
// version replaces its earlier forecast instead of duplicating it.
type Prediction struct {
	TargetMs     int64 // forecast target, unix milliseconds
	StationID    uint64
	HorizonMin   int32 // minutes between generation and target
	ModelName    string
	ModelVersion string

	PredictedMechanical float64
	PredictedEbike      float64
	PredictedTotal      float64
	PredictedDocks      float64
	Confidence          float64

	ModelRunID  int64 // producing run, bookkeeping only
	GeneratedMs int64 // when the model produced the row
}

// InsertPredictions stores a batch atomically. The whole batch is
// rejected when any row references an unregistered station or an
// unknown model run.
func (s *Store) InsertPredictions(ctx context.Context, preds []Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		stations, err := stationIDsTx(ctx, tx)
		if err != nil {
			return err
		}

		runs := make(map[int64]bool)
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO predictions (
				target_ms, station_id, horizon_min, model_name, model_version,
				predicted_mechanical, predicted_ebike, predicted_total, predicted_docks,
				confidence, model_run_id, generated_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare prediction insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range preds {
			if _, ok := stations[p.StationID]; !ok {
				return verrors.NewUnknownStation(p.StationID)
			}
			if !runs[p.ModelRunID] {
				var exists bool
				err := tx.QueryRowContext(ctx,
					`SELECT count(*) > 0 FROM model_runs WHERE id = ?`, p.ModelRunID,
				).Scan(&exists)
				if err != nil {
					return fmt.Errorf("check model run: %w", err)
				}
				if !exists {
					return verrors.Wrapf(verrors.ErrModelRunNotFound, "model run %d", p.ModelRunID)
				}
				runs[p.ModelRunID] = true
			}
			if _, err := stmt.ExecContext(ctx,
				p.TargetMs, p.StationID, p.HorizonMin, p.ModelName, p.ModelVersion,
				p.PredictedMechanical, p.PredictedEbike, p.PredictedTotal, p.PredictedDocks,
				p.Confidence, p.ModelRunID, p.GeneratedMs,
			); err != nil {
				return fmt.Errorf("insert prediction: %w", err)
			}
		}
		return nil
	})
}

func stationIDsTx(ctx context.Context, tx *sql.Tx) (map[uint64]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM stations`)
	if err != nil {
		return nil, fmt.Errorf("query station ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[uint64]struct{})
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan station id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// QueryPredictions returns predictions for a station with targets in
// [fromMs, toMs), ordered by (target, horizon, model name, model version).
func (s *Store) QueryPredictions(ctx context.Context, stationID uint64, fromMs, toMs int64) ([]Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_ms, station_id, horizon_min, model_name, model_version,
			predicted_mechanical, predicted_ebike, predicted_total, predicted_docks,
			confidence, model_run_id, generated_ms
		FROM predictions
		WHERE station_id = ? AND target_ms >= ? AND target_ms < ?
		ORDER BY target_ms, horizon_min, model_name, model_version
	`, stationID, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var preds []Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(
			&p.TargetMs, &p.StationID, &p.HorizonMin, &p.ModelName, &p.ModelVersion,
			&p.PredictedMechanical, &p.PredictedEbike, &p.PredictedTotal, &p.PredictedDocks,
			&p.Confidence, &p.ModelRunID, &p.GeneratedMs,
		); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// PurgePredictionsBefore deletes predictions generated before the
// cutoff and returns the number of rows removed. Retention calls this
// on its horizon for row-wise data.
func (s *Store) PurgePredictionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM predictions WHERE generated_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge predictions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
