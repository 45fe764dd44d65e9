// Package validation enforces domain constraints on incoming samples
// before they reach storage. Rejections never abort a batch, the caller
// decides whether to skip or fail.
package validation

import (
	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/types"
)

// StationSet answers membership queries against the station registry.
// The catalog provides a snapshot implementation.
type StationSet interface {
	HasStation(id uint64) bool
}

// Validator checks samples against structural constraints and, when a
// station set is configured, referential integrity.
type Validator struct {
	stations StationSet
}

// New returns a Validator. stations may be nil, in which case the
// unknown-station check is skipped.
func New(stations StationSet) *Validator {
	return &Validator{stations: stations}
}

// Status validates a station status sample.
//
// The bike count breakdown must be internally consistent: mechanical
// plus electric equals the total, and no count is negative.
func (v *Validator) Status(s types.StatusSample) error {
	if err := CheckStatusCounts(s); err != nil {
		return err
	}
	if v.stations != nil && !v.stations.HasStation(s.StationID) {
		return verrors.NewUnknownStation(s.StationID)
	}
	return nil
}

// Weather validates a weather sample. Weather has no referential
// constraint, only basic range sanity.
func (v *Validator) Weather(s types.WeatherSample) error {
	if s.Humidity < 0 || s.Humidity > 100 {
		return verrors.NewInvalidSample("humidity out of range")
	}
	if s.CloudCover < 0 || s.CloudCover > 100 {
		return verrors.NewInvalidSample("cloud cover out of range")
	}
	if s.Precipitation < 0 || s.Rain < 0 || s.Snowfall < 0 {
		return verrors.NewInvalidSample("negative precipitation")
	}
	if s.WindSpeed < 0 || s.WindGusts < 0 {
		return verrors.NewInvalidSample("negative wind speed")
	}
	return nil
}

// CheckStatusCounts applies the count constraints without a station set.
func CheckStatusCounts(s types.StatusSample) error {
	if s.BikesAvailable < 0 || s.Mechanical < 0 || s.Ebike < 0 || s.DocksAvailable < 0 {
		return verrors.NewInvalidSample("negative count")
	}
	if s.Mechanical+s.Ebike != s.BikesAvailable {
		return verrors.NewInvalidSample("mechanical and electric counts do not sum to total")
	}
	return nil
}
