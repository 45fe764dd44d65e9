package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	verrors "github.com/velostore/velostore/internal/errors"
)

// Model run lifecycle states.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ModelRun records one training or inference run of a forecast model.
type ModelRun struct {
	ID          int64
	Model       string
	Version     string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	RowsTrained int64
	Metrics     map[string]float64
}

// CreateModelRun registers a new run in the running state and fills in
// its assigned id.
func (s *Store) CreateModelRun(ctx context.Context, run *ModelRun) error {
	if run.Model == "" {
		return verrors.Wrap(verrors.ErrMissingField, "model name")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO model_runs (model, version, status, started_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, run.Model, run.Version, run.Status, now).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("insert model run: %w", err)
	}
	run.StartedAt = now
	return nil
}

// CompleteModelRun marks a run completed and stores its metrics.
func (s *Store) CompleteModelRun(ctx context.Context, id int64, rowsTrained int64, metrics map[string]float64) error {
	return s.finishRun(ctx, id, RunStatusCompleted, rowsTrained, metrics)
}

// FailModelRun marks a run failed.
func (s *Store) FailModelRun(ctx context.Context, id int64) error {
	return s.finishRun(ctx, id, RunStatusFailed, 0, nil)
}

func (s *Store) finishRun(ctx context.Context, id int64, status string, rowsTrained int64, metrics map[string]float64) error {
	var metricsJSON any
	if metrics != nil {
		b, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE model_runs
		SET status = ?, completed_at = ?, rows_trained = ?, metrics = ?
		WHERE id = ?
	`, status, time.Now().UTC(), rowsTrained, metricsJSON, id)
	if err != nil {
		return fmt.Errorf("update model run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return verrors.Wrapf(verrors.ErrModelRunNotFound, "model run %d", id)
	}
	return nil
}

// GetModelRun retrieves a run by id.
func (s *Store) GetModelRun(ctx context.Context, id int64) (*ModelRun, error) {
	run := &ModelRun{}
	var completedAt sql.NullTime
	var metricsJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, model, version, status, started_at, completed_at, rows_trained, metrics
		FROM model_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Model, &run.Version, &run.Status, &run.StartedAt, &completedAt, &run.RowsTrained, &metricsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verrors.Wrapf(verrors.ErrModelRunNotFound, "model run %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query model run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &run.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return run, nil
}

// ListModelRuns returns runs newest first, limited to limit rows when
// limit is positive.
func (s *Store) ListModelRuns(ctx context.Context, limit int) ([]*ModelRun, error) {
	q := `
		SELECT id, model, version, status, started_at, completed_at, rows_trained, metrics
		FROM model_runs ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query model runs: %w", err)
	}
	defer rows.Close()

	var runs []*ModelRun
	for rows.Next() {
		run := &ModelRun{}
		var completedAt sql.NullTime
		var metricsJSON sql.NullString
		if err := rows.Scan(&run.ID, &run.Model, &run.Version, &run.Status, &run.StartedAt, &completedAt, &run.RowsTrained, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan model run: %w", err)
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if metricsJSON.Valid && metricsJSON.String != "" {
			if err := json.Unmarshal([]byte(metricsJSON.String), &run.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal metrics: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
