// Package geo converts raw coordinate pairs into the distances and speeds the
// tracker reasons about. All distances are statute miles and all speeds mph,
// matching the units trips are logged in.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMiles is the mean Earth radius used for great-circle distances.
const EarthRadiusMiles = 3958.8

// NoiseFloorMiles is the minimum movement between two points that counts as
// real travel (≈10 meters). Jitter below this is GPS noise and must not
// inflate a trip's distance.
const NoiseFloorMiles = 0.006

// Miles returns the great-circle (haversine) distance between two points,
// rounded to 2 decimal places.
func Miles(lat1, lon1, lat2, lon2 float64) float64 {
	return Round2(RawMiles(lat1, lon1, lat2, lon2))
}

// RawMiles is Miles without rounding. The tracker accumulates with full
// precision and rounds only at trip boundaries, so many small increments do
// not each lose up to half a hundredth of a mile.
func RawMiles(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMiles
}

// MPH derives a speed from a distance travelled over an elapsed duration.
// A non-positive elapsed time means there is no usable speed signal and
// returns 0 — never a division by zero or an infinity.
func MPH(miles float64, elapsedMs int64) float64 {
	if elapsedMs <= 0 {
		return 0
	}
	hours := float64(elapsedMs) / (1000 * 60 * 60)
	return miles / hours
}

// Round2 rounds to 2 decimal places, the precision trips are stored at.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
