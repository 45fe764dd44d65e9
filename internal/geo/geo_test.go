package geo

import (
	"errors"
	"math"
	"testing"

	verrors "github.com/velostore/velostore/internal/errors"
)

func testIndex() *Index {
	x := NewIndex()
	x.Rebuild([]Station{
		{ID: 1, Lat: 48.85, Lon: 2.35},
		{ID: 2, Lat: 48.86, Lon: 2.35},
		{ID: 3, Lat: 48.90, Lon: 2.40},
	})
	return x
}

func TestNearest_ExcludesOriginAndOrders(t *testing.T) {
	x := testIndex()

	got, err := x.Nearest(1, 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(got))
	}
	if got[0].Station.ID != 2 || got[1].Station.ID != 3 {
		t.Errorf("order = [%d %d], want [2 3]", got[0].Station.ID, got[1].Station.ID)
	}
	if got[0].DistanceKm >= got[1].DistanceKm {
		t.Errorf("distances not ascending: %v >= %v", got[0].DistanceKm, got[1].DistanceKm)
	}
	for _, n := range got {
		if n.Station.ID == 1 {
			t.Error("origin station included in its own neighbors")
		}
	}
}

func TestNearest_KLargerThanRegistry(t *testing.T) {
	x := testIndex()

	got, err := x.Nearest(1, 10)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected all 2 other stations, got %d", len(got))
	}
}

func TestNearest_UnknownStation(t *testing.T) {
	x := testIndex()

	_, err := x.Nearest(99, 1)
	if !errors.Is(err, verrors.ErrStationNotFound) {
		t.Errorf("expected ErrStationNotFound, got %v", err)
	}
}

func TestNearest_TieBreakByID(t *testing.T) {
	x := NewIndex()
	// Two stations at the exact same coordinate, added out of id order.
	x.Rebuild([]Station{
		{ID: 1, Lat: 48.85, Lon: 2.35},
		{ID: 7, Lat: 48.86, Lon: 2.35},
		{ID: 4, Lat: 48.86, Lon: 2.35},
	})

	got, err := x.Nearest(1, 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if got[0].Station.ID != 4 || got[1].Station.ID != 7 {
		t.Errorf("tie order = [%d %d], want [4 7]", got[0].Station.ID, got[1].Station.ID)
	}
}

func TestNearestPoint(t *testing.T) {
	x := testIndex()

	got := x.NearestPoint(48.851, 2.351, 1)
	if len(got) != 1 || got[0].Station.ID != 1 {
		t.Fatalf("expected station 1 nearest to point, got %+v", got)
	}

	if got := x.NearestPoint(48.85, 2.35, 0); len(got) != 0 {
		t.Errorf("k=0 should yield no results, got %d", len(got))
	}
}

func TestRebuild_ReplacesSnapshot(t *testing.T) {
	x := testIndex()
	x.Rebuild([]Station{{ID: 9, Lat: 50, Lon: 3}})

	if x.Len() != 1 {
		t.Fatalf("Len = %d after rebuild, want 1", x.Len())
	}
	if _, err := x.Nearest(1, 1); !errors.Is(err, verrors.ErrStationNotFound) {
		t.Errorf("removed station still resolvable: %v", err)
	}
}

func TestHaversineKm(t *testing.T) {
	// Paris to London, roughly 344 km.
	d := HaversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330 || d > 360 {
		t.Errorf("Paris-London distance = %.1f km, outside expected range", d)
	}

	if d := HaversineKm(48.85, 2.35, 48.85, 2.35); d != 0 {
		t.Errorf("zero distance = %v, want 0", d)
	}

	// Symmetry.
	ab := HaversineKm(48.85, 2.35, 48.90, 2.40)
	ba := HaversineKm(48.90, 2.40, 48.85, 2.35)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("asymmetric distance: %v vs %v", ab, ba)
	}
}
