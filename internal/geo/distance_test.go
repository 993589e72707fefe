package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"milelog/internal/geo"
)

func TestRawMiles_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is ~69.1 statute miles anywhere on Earth.
	got := geo.RawMiles(37.0, -122.0, 38.0, -122.0)
	assert.InDelta(t, 69.1, got, 0.2)
}

func TestRawMiles_SamePoint(t *testing.T) {
	assert.Equal(t, 0.0, geo.RawMiles(40.7128, -74.0060, 40.7128, -74.0060))
}

func TestMiles_RoundsToTwoDecimals(t *testing.T) {
	got := geo.Miles(37.0, -122.0, 38.0, -122.0)
	assert.Equal(t, got, geo.Round2(got))
}

func TestRawMiles_KnownCityPair(t *testing.T) {
	// San Francisco to Los Angeles, great-circle ≈ 347 miles.
	got := geo.RawMiles(37.7749, -122.4194, 34.0522, -118.2437)
	assert.InDelta(t, 347, got, 3)
}

func TestMPH(t *testing.T) {
	// 1 mile in 60 seconds is 60 mph.
	assert.InDelta(t, 60.0, geo.MPH(1.0, 60_000), 0.001)

	// 0.5 miles in 30 minutes is 1 mph.
	assert.InDelta(t, 1.0, geo.MPH(0.5, 30*60*1000), 0.001)
}

func TestMPH_NoElapsedTime(t *testing.T) {
	// Zero or negative elapsed time means no speed signal, not infinity.
	assert.Equal(t, 0.0, geo.MPH(1.0, 0))
	assert.Equal(t, 0.0, geo.MPH(1.0, -500))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, geo.Round2(1.234))
	assert.Equal(t, 1.24, geo.Round2(1.236))
	assert.Equal(t, 0.0, geo.Round2(0.004))
}
