package domain

import "time"

// Message types carried over the websocket.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeSubscribed       = "subscribed"
	TypeError            = "error"
	TypeLocationUpdate   = "location_update"
	TypeSimulationStatus = "simulation_status"
	TypeNotification     = "notification"
)

// Event is an outbound message the hub stamps with the server time before fan-out.
type Event interface {
	Stamp(at time.Time)
}

// Frame covers inbound client frames and the small control replies.
type Frame struct {
	Type      string `json:"type"`
	BookingID string `json:"bookingId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message,omitempty"`
}

type FixPayload struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type RouteProgress struct {
	RemainingDistance float64 `json:"remainingDistance"` // km
	RemainingTime     int     `json:"remainingTime"`     // minutes
	Progress          int     `json:"progress"`          // percent
}

type LocationUpdate struct {
	Type      string        `json:"type"`
	BookingID string        `json:"bookingId"`
	Location  FixPayload    `json:"location"`
	Route     RouteProgress `json:"route"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewLocationUpdate(bookingID string, fix LocationFix, route RouteProgress) *LocationUpdate {
	return &LocationUpdate{
		Type:      TypeLocationUpdate,
		BookingID: bookingID,
		Location: FixPayload{
			Lat:       fix.Lat,
			Lng:       fix.Lng,
			Heading:   fix.Heading,
			Speed:     fix.Speed,
			Accuracy:  fix.Accuracy,
			Timestamp: fix.ObservedAt,
		},
		Route: route,
	}
}

func (m *LocationUpdate) Stamp(at time.Time) { m.Timestamp = at }

type StatusUpdate struct {
	Type      string           `json:"type"`
	BookingID string           `json:"bookingId"`
	Status    SimulationStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewStatusUpdate(bookingID string, status SimulationStatus) *StatusUpdate {
	return &StatusUpdate{Type: TypeSimulationStatus, BookingID: bookingID, Status: status}
}

func (m *StatusUpdate) Stamp(at time.Time) { m.Timestamp = at }

type Notification struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (m *Notification) Stamp(at time.Time) { m.Timestamp = at }
