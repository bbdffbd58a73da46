// Package geo holds the pure geometry helpers used by the store and the simulator.
package geo

import (
	"math"

	"github.com/thebowwman/fleetcast/internals/domain"
)

const EarthRadiusKm = 6371

type RouteClass string

const (
	RouteCity    RouteClass = "city"
	RouteHighway RouteClass = "highway"
)

// BaseSpeed is the assumed average speed in km/h for a route class.
func (c RouteClass) BaseSpeed() (float64, bool) {
	switch c {
	case RouteCity:
		return 30, true
	case RouteHighway:
		return 50, true
	}
	return 0, false
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine calculates distance between two points in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := radians(lat1)
	lat2Rad := radians(lat2)
	deltaLat := radians(lat2 - lat1)
	deltaLon := radians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance is the checked great-circle distance in km between two points.
func Distance(p1, p2 domain.Point) (float64, error) {
	if !p1.IsValid() {
		return 0, domain.Invalid("from", "coordinates out of range")
	}
	if !p2.IsValid() {
		return 0, domain.Invalid("to", "coordinates out of range")
	}
	return Haversine(p1.Lat, p1.Lng, p2.Lat, p2.Lng), nil
}

// Bearing returns the initial compass bearing from p1 to p2 in [0,360).
// Both points must be valid; check with Point.IsValid or use Distance first.
func Bearing(p1, p2 domain.Point) float64 {
	lat1 := radians(p1.Lat)
	lat2 := radians(p2.Lat)
	dLon := radians(p2.Lng - p1.Lng)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeHeading(degrees(math.Atan2(y, x)))
}

// NormalizeHeading folds any angle into [0,360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// Interpolate blends lat/lng linearly; fraction is clamped to [0,1] and NaN counts as 0.
// Both points must be valid.
func Interpolate(p1, p2 domain.Point, fraction float64) domain.Point {
	if math.IsNaN(fraction) {
		return p1
	}
	t := Clamp(fraction, 0, 1)
	if t == 1 {
		return p2
	}
	return domain.Point{
		Lat: Lerp(p1.Lat, p2.Lat, t),
		Lng: Lerp(p1.Lng, p2.Lng, t),
	}
}

// EstimateTravelTime returns whole minutes to cover distanceKm:
// ceil(distance / (baseSpeed/trafficFactor) * 60).
func EstimateTravelTime(distanceKm, trafficFactor float64, class RouteClass) (int, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return 0, domain.Invalid("distanceKm", "must be a non-negative number")
	}
	if math.IsNaN(trafficFactor) || math.IsInf(trafficFactor, 0) || trafficFactor <= 0 {
		return 0, domain.Invalid("trafficFactor", "must be positive")
	}
	base, ok := class.BaseSpeed()
	if !ok {
		return 0, domain.Invalid("routeClass", "must be city or highway")
	}
	speed := base / trafficFactor
	return int(math.Ceil(distanceKm / speed * 60)), nil
}

// Clamp limits a value between min and max.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Lerp performs linear interpolation between two values.
func Lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// RoundTo rounds a float to specified decimal places.
func RoundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
