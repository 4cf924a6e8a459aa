package geo

import (
	"math"

	"github.com/foodbridge/relay/core/model"
)

const earthRadiusKm = 6371

// FallbackSpeedKmh is the fixed average courier speed used when no
// routing provider is available.
const FallbackSpeedKmh = 25.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b model.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// TravelMinutes estimates travel time for a distance at the given
// average speed. A non-positive speed falls back to FallbackSpeedKmh.
func TravelMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = FallbackSpeedKmh
	}
	return distanceKm / speedKmh * 60
}
