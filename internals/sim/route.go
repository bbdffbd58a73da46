package sim

import (
	"github.com/thebowwman/fleetcast/internals/domain"
)

// DefaultRoute is the Nalgonda → Miryalguda corridor used when a trip has no route of its own.
var DefaultRoute = []domain.Point{
	{Lat: 17.0477, Lng: 79.2666},
	{Lat: 17.0200, Lng: 79.3150},
	{Lat: 16.9900, Lng: 79.3700},
	{Lat: 16.9600, Lng: 79.4200},
	{Lat: 16.9300, Lng: 79.4750},
	{Lat: 16.9000, Lng: 79.5300},
	{Lat: 16.8700, Lng: 79.5900},
}

func validateRoute(route []domain.Point) error {
	if len(route) < 2 {
		return domain.Invalid("route", "needs at least two waypoints")
	}
	for _, p := range route {
		if !p.IsValid() {
			return domain.Invalid("route", "waypoint coordinates out of range")
		}
	}
	return nil
}
