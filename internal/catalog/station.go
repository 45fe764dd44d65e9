package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	verrors "github.com/velostore/velostore/internal/errors"
)

// Station is a registered bike-share station.
type Station struct {
	ID        uint64
	Code      string // short upstream code, unique across the registry
	Name      string
	Lat       float64
	Lon       float64
	Capacity  int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertStation inserts or updates a station by id. Returns
// ErrDuplicateCode when the code already belongs to a different station
// and ErrMissingField when required fields are empty.
func (s *Store) UpsertStation(ctx context.Context, st *Station) error {
	if st.Code == "" {
		return verrors.Wrap(verrors.ErrMissingField, "station code")
	}
	if st.Name == "" {
		return verrors.Wrap(verrors.ErrMissingField, "station name")
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var holder uint64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM stations WHERE code = ?`, st.Code,
		).Scan(&holder)
		switch {
		case err == nil && holder != st.ID:
			return verrors.Wrapf(verrors.ErrDuplicateCode, "code %q belongs to station %d", st.Code, holder)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check station code: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE stations
			SET code = ?, name = ?, lat = ?, lon = ?, capacity = ?, updated_at = ?
			WHERE id = ?
		`, st.Code, st.Name, st.Lat, st.Lon, st.Capacity, now, st.ID)
		if err != nil {
			return fmt.Errorf("update station: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			st.UpdatedAt = now
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stations (id, code, name, lat, lon, capacity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, st.Code, st.Name, st.Lat, st.Lon, st.Capacity, now, now)
		if err != nil {
			if isDuplicateErr(err) {
				return verrors.Wrapf(verrors.ErrDuplicateCode, "code %q", st.Code)
			}
			return fmt.Errorf("insert station: %w", err)
		}
		st.CreatedAt = now
		st.UpdatedAt = now
		return nil
	})
}

// GetStation retrieves a station by id.
func (s *Store) GetStation(ctx context.Context, id uint64) (*Station, error) {
	return s.getStation(ctx, `WHERE id = ?`, id)
}

// GetStationByCode retrieves a station by its upstream code.
func (s *Store) GetStationByCode(ctx context.Context, code string) (*Station, error) {
	return s.getStation(ctx, `WHERE code = ?`, code)
}

func (s *Store) getStation(ctx context.Context, where string, arg any) (*Station, error) {
	st := &Station{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, lat, lon, capacity, created_at, updated_at
		FROM stations `+where,
		arg,
	).Scan(&st.ID, &st.Code, &st.Name, &st.Lat, &st.Lon, &st.Capacity, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verrors.Wrapf(verrors.ErrStationNotFound, "station %v", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query station: %w", err)
	}
	return st, nil
}

// ListStations returns all stations ordered by id.
func (s *Store) ListStations(ctx context.Context) ([]*Station, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, lat, lon, capacity, created_at, updated_at
		FROM stations ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		st := &Station{}
		if err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.Lat, &st.Lon, &st.Capacity, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// DeleteStation removes a station from the registry. inUse reports
// whether retained samples still reference the station; when it does,
// the delete is refused with ErrStationInUse and the caller retries
// after retention has drained the data.
func (s *Store) DeleteStation(ctx context.Context, id uint64, inUse func(uint64) bool) error {
	if inUse != nil && inUse(id) {
		return verrors.Wrapf(verrors.ErrStationInUse, "station %d still has retained samples", id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete station: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return verrors.Wrapf(verrors.ErrStationNotFound, "station %d", id)
	}
	return nil
}

// StationIDs returns the current set of registered station ids.
func (s *Store) StationIDs(ctx context.Context) (map[uint64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM stations`)
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

// isDuplicateErr detects a unique constraint violation. The driver does
// not expose a typed error, match on the message.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
