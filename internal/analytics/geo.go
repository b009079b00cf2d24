// Package analytics derives fleet, route, amenity and risk KPIs from a
// normalized route document. Every function is pure: no I/O, no logging,
// no shared state.
package analytics

import (
	"math"

	"vrpdash/internal/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in km.
// Callers validate their inputs; no error path exists.
func HaversineKm(aLat, aLon, bLat, bLon float64) float64 {
	dLat := (bLat - aLat) * math.Pi / 180
	dLon := (bLon - aLon) * math.Pi / 180
	lat1 := aLat * math.Pi / 180
	lat2 := bLat * math.Pi / 180
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// float error can push a just past 1 for antipodal points
	a = Clamp(a, 0, 1)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func distanceKm(a, b model.GeoPoint) float64 {
	return HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
}
