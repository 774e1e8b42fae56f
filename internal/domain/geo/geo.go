// Package geo measures distances between GPS fixes.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for latitudes or longitudes out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Distance returns the haversine distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := lat1*math.Pi/180, lat2*math.Pi/180
	dp := p2 - p1
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Valid reports whether lat and lon are finite and within range.
func Valid(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) && math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

// Area is an authorized circle.
type Area struct {
	Latitude     float64 `json:"latitude" koanf:"lat"`
	Longitude    float64 `json:"longitude" koanf:"lon"`
	RadiusMeters float64 `json:"radius_meters" koanf:"radius_m"`
}

// Contains returns the distance to the center and whether it is inside the radius.
func (a Area) Contains(lat, lon float64) (float64, bool, error) {
	if !Valid(lat, lon) {
		return 0, false, ErrInvalidCoordinate
	}
	d := Distance(a.Latitude, a.Longitude, lat, lon)
	return d, d <= a.RadiusMeters, nil
}
