package domain

import (
	"math"
	"time"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) IsValid() bool {

	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) && p.Lat <= 90 && p.Lat >= -90 && p.Lng <= 180 && p.Lng >= -180

}

// LocationFix is the latest observation held for one driver.
type LocationFix struct {
	DriverID   string    `json:"driverId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	Speed      float64   `json:"speed"`
	Accuracy   float64   `json:"accuracy"`
	Geohash    string    `json:"geohash,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
	IsStale    bool      `json:"isStale,omitempty"`
}

func (f LocationFix) Point() Point { return Point{Lat: f.Lat, Lng: f.Lng} }

func (f LocationFix) IsValid() bool {
	return f.Point().IsValid() && finite(f.Heading) && finite(f.Speed) && finite(f.Accuracy)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

type SimulationStatus string

const (
	StatusActive    SimulationStatus = "active"
	StatusPaused    SimulationStatus = "paused"
	StatusCompleted SimulationStatus = "completed"
	StatusCancelled SimulationStatus = "cancelled"
)

// SimulationSnapshot is the read model returned by ListActiveSimulations.
type SimulationSnapshot struct {
	TripID   string           `json:"tripId"`
	DriverID string           `json:"driverId"`
	Status   SimulationStatus `json:"status"`
	Position Point            `json:"position"`
	Speed    float64          `json:"speed"`
	Progress int              `json:"progress"`
}

const userTopicPrefix = "user:"

// UserTopic namespaces per-user notification topics so they never collide with trip ids.
func UserTopic(userID string) string { return userTopicPrefix + userID }
