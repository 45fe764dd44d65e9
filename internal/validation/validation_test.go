package validation

import (
	"errors"
	"math/rand"
	"testing"

	verrors "github.com/velostore/velostore/internal/errors"
	"github.com/velostore/velostore/internal/storage/types"
)

type fakeSet map[uint64]struct{}

func (f fakeSet) HasStation(id uint64) bool {
	_, ok := f[id]
	return ok
}

func TestStatus_CountConstraint(t *testing.T) {
	v := New(nil)

	tests := []struct {
		name    string
		bikes   int32
		mech    int32
		ebike   int32
		docks   int32
		wantErr bool
	}{
		{"consistent", 9, 4, 5, 21, false},
		{"all mechanical", 5, 5, 0, 25, false},
		{"empty station", 0, 0, 0, 30, false},
		{"sum exceeds total", 9, 5, 5, 21, true},
		{"sum below total", 9, 3, 5, 21, true},
		{"negative bikes", -1, 0, -1, 30, true},
		{"negative docks", 5, 5, 0, -2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Status(types.StatusSample{
				TimestampMs:    1717200000000,
				StationID:      1,
				BikesAvailable: tt.bikes,
				Mechanical:     tt.mech,
				Ebike:          tt.ebike,
				DocksAvailable: tt.docks,
			})
			if tt.wantErr {
				if !errors.Is(err, verrors.ErrInvalidSample) {
					t.Errorf("expected ErrInvalidSample, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStatus_CountConstraintRandomized(t *testing.T) {
	v := New(nil)
	rng := rand.New(rand.NewSource(1717200000))

	for i := 0; i < 10_000; i++ {
		s := types.StatusSample{
			TimestampMs:    1717200000000,
			StationID:      1,
			BikesAvailable: int32(rng.Intn(9)) - 2,
			Mechanical:     int32(rng.Intn(7)) - 2,
			Ebike:          int32(rng.Intn(7)) - 2,
			DocksAvailable: int32(rng.Intn(9)) - 2,
		}
		valid := s.BikesAvailable >= 0 && s.Mechanical >= 0 &&
			s.Ebike >= 0 && s.DocksAvailable >= 0 &&
			s.Mechanical+s.Ebike == s.BikesAvailable

		err := v.Status(s)
		if valid && err != nil {
			t.Fatalf("valid sample %+v rejected: %v", s, err)
		}
		if !valid && !errors.Is(err, verrors.ErrInvalidSample) {
			t.Fatalf("invalid sample %+v: expected ErrInvalidSample, got %v", s, err)
		}
	}
}

func TestStatus_UnknownStation(t *testing.T) {
	v := New(fakeSet{42: {}})

	ok := types.StatusSample{StationID: 42, BikesAvailable: 5, Mechanical: 5}
	if err := v.Status(ok); err != nil {
		t.Errorf("registered station rejected: %v", err)
	}

	unknown := types.StatusSample{StationID: 99, BikesAvailable: 5, Mechanical: 5}
	err := v.Status(unknown)
	if !errors.Is(err, verrors.ErrUnknownStation) {
		t.Errorf("expected ErrUnknownStation, got %v", err)
	}
}

func TestWeather_Ranges(t *testing.T) {
	v := New(nil)

	if err := v.Weather(types.WeatherSample{Humidity: 50, CloudCover: 80}); err != nil {
		t.Errorf("valid sample rejected: %v", err)
	}

	bad := []types.WeatherSample{
		{Humidity: 101},
		{Humidity: -1},
		{CloudCover: 150},
		{Precipitation: -0.5},
		{WindSpeed: -1},
	}
	for i, s := range bad {
		if err := v.Weather(s); !errors.Is(err, verrors.ErrInvalidSample) {
			t.Errorf("sample %d: expected ErrInvalidSample, got %v", i, err)
		}
	}
}
