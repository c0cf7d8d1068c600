// Package spatial holds the great-circle helpers used for proximity checks.
package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for all distance conversions.
const EarthRadiusMeters = 6371000.0

// HaversineDistance returns the great-circle distance between two points in meters.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Within reports whether the two points are at most radius meters apart.
// The boundary is inclusive.
func Within(lat1, lng1, lat2, lng2, radius float64) bool {
	return HaversineDistance(lat1, lng1, lat2, lng2) <= radius
}

// Bearing returns the initial bearing from point 1 to point 2 in degrees (0-360, 0 = north).
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lngDiff := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(lngDiff) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lngDiff)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// DestinationPoint returns the point reached by travelling distance meters
// from (lat, lng) along bearing degrees.
func DestinationPoint(lat, lng, bearing, distance float64) (float64, float64) {
	bearingRad := bearing * math.Pi / 180
	angular := distance / EarthRadiusMeters

	latRad := lat * math.Pi / 180
	lngRad := lng * math.Pi / 180

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	lng2 := lngRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	return lat2 * 180 / math.Pi, lng2 * 180 / math.Pi
}
