package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thebowwman/fleetcast/internals/auth"
	"github.com/thebowwman/fleetcast/internals/domain"
	"github.com/thebowwman/fleetcast/internals/tracking"
)

type postLocationReq struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Heading  *float64 `json:"heading"`
	Speed    *float64 `json:"speed"`
	Accuracy *float64 `json:"accuracy"`
}

// Drivers may only report their own position; dispatchers may report any.
func (h *handlers) handlePostDriverLoc(c *gin.Context) {
	id := c.Param("driverID")
	claims := claimsFrom(c)
	if claims.Role == auth.RoleDriver && claims.DriverID != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "driver mismatch"})
		return
	}
	var req postLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	fix, err := h.svc.UpdateDriverLocation(id, tracking.LocationInput{
		Lat:      req.Lat,
		Lng:      req.Lng,
		Heading:  req.Heading,
		Speed:    req.Speed,
		Accuracy: req.Accuracy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if claims.Role == auth.RoleDispatcher {
		h.log.Info("location set by dispatcher", "action", "location_override", "driver_id", fix.DriverID)
	}
	c.JSON(http.StatusOK, fix)
}

func (h *handlers) handleGetDriverLoc(c *gin.Context) {
	fix, err := h.svc.GetDriverLocation(c.Param("driverID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fix)
}

func (h *handlers) handleClearDriverLoc(c *gin.Context) {
	if !h.svc.ClearDriverLocation(c.Param("driverID")) {
		fail(c, domain.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) handleListActiveDrivers(c *gin.Context) {
	var maxAge time.Duration
	if raw := c.Query("maxAgeMs"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			fail(c, domain.Invalid("maxAgeMs", "must be a non-negative integer"))
			return
		}
		maxAge = time.Duration(ms) * time.Millisecond
	}
	drivers := h.svc.ListActiveDrivers(maxAge)
	c.JSON(http.StatusOK, gin.H{"drivers": drivers, "count": len(drivers)})
}

func (h *handlers) handleNearbyDrivers(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		fail(c, domain.Invalid("lat/lng", "required numeric query parameters"))
		return
	}
	radius := 5.0
	if raw := c.Query("radiusKm"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fail(c, domain.Invalid("radiusKm", "must be a number"))
			return
		}
		radius = r
	}
	near, err := h.svc.NearbyDrivers(domain.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": near, "count": len(near)})
}

type startSimulationReq struct {
	TripID   string         `json:"tripId"`
	DriverID string         `json:"driverId"`
	Route    []domain.Point `json:"route,omitempty"`
}

func (h *handlers) handleStartSimulation(c *gin.Context) {
	var req startSimulationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	tripID := strings.TrimSpace(req.TripID)
	started, err := h.svc.StartSimulation(tripID, req.DriverID, req.Route)
	if err != nil {
		fail(c, err)
		return
	}
	if !started {
		c.JSON(http.StatusConflict, gin.H{"started": false, "error": "simulation already running"})
		return
	}
	snap, err := h.svc.GetSimulation(tripID)
	if err != nil {
		fail(c, err)
		return
	}
	h.log.Info("simulation requested", "action", "simulation_requested", "trip_id", tripID, "role", claimsFrom(c).Role)
	c.JSON(http.StatusCreated, gin.H{"started": true, "simulation": snap})
}

func (h *handlers) handleListSimulations(c *gin.Context) {
	sims := h.svc.ListActiveSimulations()
	c.JSON(http.StatusOK, gin.H{"simulations": sims, "count": len(sims)})
}

func (h *handlers) handleStopSimulation(c *gin.Context) {
	if !h.svc.StopSimulation(c.Param("tripID")) {
		fail(c, domain.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) handlePauseSimulation(c *gin.Context) {
	h.transition(c, h.svc.PauseSimulation)
}

func (h *handlers) handleResumeSimulation(c *gin.Context) {
	h.transition(c, h.svc.ResumeSimulation)
}

// transition reports 404 for unknown trips and 409 when the trip is not in the source state.
func (h *handlers) transition(c *gin.Context, fn func(string) bool) {
	id := c.Param("tripID")
	if !fn(id) {
		if _, err := h.svc.GetSimulation(id); err != nil {
			fail(c, err)
			return
		}
		fail(c, fmt.Errorf("%w: simulation not in a state for this change", domain.ErrConflict))
		return
	}
	snap, err := h.svc.GetSimulation(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type distanceReq struct {
	From *domain.Point `json:"from"`
	To   *domain.Point `json:"to"`
}

func (h *handlers) handleDistance(c *gin.Context) {
	var req distanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if req.From == nil || req.To == nil {
		fail(c, domain.Invalid("from/to", "both points are required"))
		return
	}
	km, err := h.svc.CalculateDistance(*req.From, *req.To)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distanceKm": km})
}

type etaReq struct {
	DistanceKm    *float64 `json:"distanceKm"`
	TrafficFactor *float64 `json:"trafficFactor"`
	RouteClass    string   `json:"routeClass"`
}

func (h *handlers) handleETA(c *gin.Context) {
	var req etaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if req.DistanceKm == nil {
		fail(c, domain.Invalid("distanceKm", "required"))
		return
	}
	minutes, err := h.svc.EstimateTravelTime(*req.DistanceKm, req.TrafficFactor, req.RouteClass)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minutes": minutes})
}

type notifyReq struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

func (h *handlers) handleNotify(c *gin.Context) {
	var req notifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	n, err := h.svc.Notify(c.Param("userID"), req.Title, req.Body, req.Data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": n})
}

func (h *handlers) handleHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.HubStats())
}
