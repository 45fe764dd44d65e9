// Package geo answers nearest-station queries over the station registry.
//
// The index is a flat coordinate slice rebuilt on registry change and
// scanned linearly per query. Station counts stay in the low thousands,
// a brute-force scan beats tree maintenance at that scale.
package geo

import (
	"math"
	"sort"
	"sync"

	verrors "github.com/velostore/velostore/internal/errors"
)

// earthRadiusKm is the mean Earth radius used by the distance formula.
const earthRadiusKm = 6371.0

// Station is a positioned station as the index sees it.
type Station struct {
	ID  uint64
	Lat float64
	Lon float64
}

// Neighbor is one nearest-query result.
type Neighbor struct {
	Station    Station
	DistanceKm float64
}

// Index holds an immutable snapshot of station positions. Rebuild swaps
// the snapshot atomically; queries run against whichever snapshot they
// started with.
type Index struct {
	mu       sync.RWMutex
	stations []Station
	byID     map[uint64]Station
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[uint64]Station)}
}

// Rebuild replaces the index contents with the given stations.
func (x *Index) Rebuild(stations []Station) {
	byID := make(map[uint64]Station, len(stations))
	snapshot := make([]Station, len(stations))
	copy(snapshot, stations)
	for _, s := range snapshot {
		byID[s.ID] = s
	}

	x.mu.Lock()
	x.stations = snapshot
	x.byID = byID
	x.mu.Unlock()
}

// Len returns the number of indexed stations.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.stations)
}

// Nearest returns the k stations closest to the given station, excluding
// the station itself, ordered by distance ascending with station id as
// the tiebreak. Fewer than k results are returned when the registry is
// small. k <= 0 yields an empty result.
func (x *Index) Nearest(id uint64, k int) ([]Neighbor, error) {
	x.mu.RLock()
	origin, ok := x.byID[id]
	stations := x.stations
	x.mu.RUnlock()

	if !ok {
		return nil, verrors.Wrapf(verrors.ErrStationNotFound, "station %d not indexed", id)
	}
	return nearestTo(origin.Lat, origin.Lon, stations, &id, k), nil
}

// NearestPoint returns the k stations closest to an arbitrary coordinate.
func (x *Index) NearestPoint(lat, lon float64, k int) []Neighbor {
	x.mu.RLock()
	stations := x.stations
	x.mu.RUnlock()
	return nearestTo(lat, lon, stations, nil, k)
}

func nearestTo(lat, lon float64, stations []Station, exclude *uint64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	neighbors := make([]Neighbor, 0, len(stations))
	for _, s := range stations {
		if exclude != nil && s.ID == *exclude {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Station:    s,
			DistanceKm: HaversineKm(lat, lon, s.Lat, s.Lon),
		})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].DistanceKm != neighbors[j].DistanceKm {
			return neighbors[i].DistanceKm < neighbors[j].DistanceKm
		}
		return neighbors[i].Station.ID < neighbors[j].Station.ID
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// HaversineKm computes the great-circle distance between two coordinates
// in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
