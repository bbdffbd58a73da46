// Package sim moves simulated vehicles along fixed routes and publishes their fixes.
//
// A single loop ticks every active simulation on a fixed interval. All simulation
// state is guarded by one mutex held for the whole tick, so once Stop returns no
// further tick or broadcast happens for that trip.
package sim

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thebowwman/fleetcast/internals/domain"
	"github.com/thebowwman/fleetcast/internals/geo"
)

// Publisher fans an event out to a topic's subscribers without blocking.
type Publisher interface {
	Broadcast(topic string, ev domain.Event) int
}

// LocationWriter stores the latest fix of a driver.
type LocationWriter interface {
	Update(driverID string, fix domain.LocationFix) (domain.LocationFix, error)
}

// Options tune the simulation. The jitter values are cosmetic GPS noise.
type Options struct {
	Interval         time.Duration
	MinSpeed         float64 // km/h, initial cruising speed range
	MaxSpeed         float64
	SpeedJitter      float64 // km/h per tick
	SpeedFloor       float64
	SpeedCeil        float64
	PositionJitterM  float64
	HeadingJitterDeg float64
	Accuracy         float64 // reported accuracy in meters
	RouteClass       geo.RouteClass
	TrafficFactor    float64

	// Ticks, when set, drives the loop instead of an internal ticker.
	Ticks <-chan time.Time
}

func DefaultOptions() Options {
	return Options{
		Interval:         5 * time.Second,
		MinSpeed:         35,
		MaxSpeed:         50,
		SpeedJitter:      5,
		SpeedFloor:       20,
		SpeedCeil:        60,
		PositionJitterM:  1,
		HeadingJitterDeg: 5,
		Accuracy:         10,
		RouteClass:       geo.RouteHighway,
		TrafficFactor:    1,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.MinSpeed <= 0 {
		o.MinSpeed = def.MinSpeed
	}
	if o.MaxSpeed < o.MinSpeed {
		o.MaxSpeed = o.MinSpeed
	}
	if o.SpeedFloor <= 0 {
		o.SpeedFloor = def.SpeedFloor
	}
	if o.SpeedCeil < o.SpeedFloor {
		o.SpeedCeil = def.SpeedCeil
	}
	if o.SpeedJitter < 0 {
		o.SpeedJitter = 0
	}
	if o.PositionJitterM < 0 {
		o.PositionJitterM = 0
	}
	if o.HeadingJitterDeg < 0 {
		o.HeadingJitterDeg = 0
	}
	if o.Accuracy <= 0 {
		o.Accuracy = def.Accuracy
	}
	if _, ok := o.RouteClass.BaseSpeed(); !ok {
		o.RouteClass = def.RouteClass
	}
	if o.TrafficFactor <= 0 {
		o.TrafficFactor = def.TrafficFactor
	}
	return o
}

// Simulation is one trip moving along its waypoints.
type Simulation struct {
	TripID    string
	DriverID  string
	Waypoints []domain.Point
	Index     int
	Position  domain.Point
	Speed     float64
	Heading   float64
	Status    domain.SimulationStatus

	departed bool
	segDone  float64 // km travelled along the current segment
	segLen   []float64
	total    float64
}

func newSimulation(tripID, driverID string, route []domain.Point) *Simulation {
	wps := make([]domain.Point, len(route))
	copy(wps, route)

	segLen := make([]float64, len(wps)-1)
	var total float64
	for i := range segLen {
		segLen[i] = geo.Haversine(wps[i].Lat, wps[i].Lng, wps[i+1].Lat, wps[i+1].Lng)
		total += segLen[i]
	}
	return &Simulation{
		TripID:    tripID,
		DriverID:  driverID,
		Waypoints: wps,
		Position:  wps[0],
		Heading:   geo.Bearing(wps[0], wps[1]),
		Status:    domain.StatusActive,
		segLen:    segLen,
		total:     total,
	}
}

func (s *Simulation) covered() float64 {
	var d float64
	for i := 0; i < s.Index && i < len(s.segLen); i++ {
		d += s.segLen[i]
	}
	return d + s.segDone
}

// Remaining is the route distance left in km.
func (s *Simulation) Remaining() float64 {
	return math.Max(0, s.total-s.covered())
}

// Progress is the share of route distance covered, in whole percent.
func (s *Simulation) Progress() int {
	if s.Status == domain.StatusCompleted || s.Index >= len(s.Waypoints)-1 {
		return 100
	}
	if s.total == 0 {
		return 0
	}
	return int(geo.Clamp(math.Round(s.covered()/s.total*100), 0, 100))
}

func (s *Simulation) snapshot() domain.SimulationSnapshot {
	return domain.SimulationSnapshot{
		TripID:   s.TripID,
		DriverID: s.DriverID,
		Status:   s.Status,
		Position: s.Position,
		Speed:    geo.RoundTo(s.Speed, 1),
		Progress: s.Progress(),
	}
}

type Simulator struct {
	mu     sync.Mutex
	active map[string]*Simulation
	rng    *rand.Rand

	store LocationWriter
	pub   Publisher
	opts  Options
	log   *slog.Logger
}

func New(store LocationWriter, pub Publisher, opts Options, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		active: make(map[string]*Simulation),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		store:  store,
		pub:    pub,
		opts:   opts.withDefaults(),
		log:    log.With("component", "simulator"),
	}
}

func (s *Simulator) Options() Options { return s.opts }

// Start begins a simulation for tripID along route, or DefaultRoute when route is empty.
// It returns false without error when the trip is already running.
func (s *Simulator) Start(tripID, driverID string, route []domain.Point) (bool, error) {
	tripID = strings.TrimSpace(tripID)
	driverID = strings.TrimSpace(driverID)
	if tripID == "" {
		return false, domain.Invalid("tripId", "required")
	}
	if driverID == "" {
		return false, domain.Invalid("driverId", "required")
	}
	if len(route) == 0 {
		route = DefaultRoute
	}
	if err := validateRoute(route); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.active[tripID]; running {
		return false, nil
	}

	sim := newSimulation(tripID, driverID, route)
	sim.Speed = s.cruisingSpeed()
	s.active[tripID] = sim

	s.log.Info("simulation started", "action", "simulation_started",
		"trip_id", tripID, "driver_id", driverID, "waypoints", len(route), "route_km", geo.RoundTo(sim.total, 2))

	s.emit(sim, sim.Position, sim.Heading)
	return true, nil
}

// Stop cancels the trip's simulation. It returns false for unknown or already stopped trips.
func (s *Simulator) Stop(tripID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.active[tripID]
	if !ok {
		return false
	}
	sim.Status = domain.StatusCancelled
	s.remove(sim)
	return true
}

func (s *Simulator) Pause(tripID string) bool {
	return s.transition(tripID, domain.StatusActive, domain.StatusPaused)
}

func (s *Simulator) Resume(tripID string) bool {
	return s.transition(tripID, domain.StatusPaused, domain.StatusActive)
}

func (s *Simulator) transition(tripID string, from, to domain.SimulationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.active[tripID]
	if !ok || sim.Status != from {
		return false
	}
	sim.Status = to
	s.log.Info("simulation state changed", "action", "simulation_transition", "trip_id", tripID, "from", from, "to", to)
	return true
}

// Get returns a snapshot of one running simulation.
func (s *Simulator) Get(tripID string) (domain.SimulationSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, ok := s.active[tripID]
	if !ok {
		return domain.SimulationSnapshot{}, false
	}
	return sim.snapshot(), true
}

// List returns a snapshot of every active or paused simulation, ordered by trip id.
func (s *Simulator) List() []domain.SimulationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SimulationSnapshot, 0, len(s.active))
	for _, sim := range s.active {
		out = append(out, sim.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// Run ticks every active simulation each interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticks := s.opts.Ticks
	if ticks == nil {
		t := time.NewTicker(s.opts.Interval)
		defer t.Stop()
		ticks = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			s.tickAll()
		}
	}
}

// Shutdown cancels every running simulation.
func (s *Simulator) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sim := range s.active {
		sim.Status = domain.StatusCancelled
		s.remove(sim)
	}
}

func (s *Simulator) tickAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if sim, ok := s.active[id]; ok {
			s.step(sim)
		}
	}
}

// tick advances one trip. A trip stopped meanwhile is skipped.
func (s *Simulator) tick(tripID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.active[tripID]
	if !ok {
		return false
	}
	s.step(sim)
	return true
}

// step must be called with s.mu held.
func (s *Simulator) step(sim *Simulation) {
	if sim.Status != domain.StatusActive {
		return
	}

	// the first tick reports the origin
	if !sim.departed {
		sim.departed = true
		s.emit(sim, sim.Position, sim.Heading)
		return
	}

	last := len(sim.Waypoints) - 1
	next := sim.Waypoints[sim.Index+1]
	covered := sim.Speed * s.opts.Interval.Hours()
	left := sim.segLen[sim.Index] - sim.segDone

	if covered >= left {
		sim.Index++
		sim.segDone = 0
		sim.Position = next
		if sim.Index == last {
			sim.Status = domain.StatusCompleted
			s.emit(sim, sim.Position, sim.Heading)
			s.remove(sim)
			return
		}
		sim.Heading = geo.Bearing(next, sim.Waypoints[sim.Index+1])
		sim.Speed = s.cruisingSpeed()
	} else {
		sim.segDone += covered
		from := sim.Waypoints[sim.Index]
		sim.Position = geo.Interpolate(from, next, sim.segDone/sim.segLen[sim.Index])
		sim.Speed = geo.Clamp(sim.Speed+s.noise(s.opts.SpeedJitter), s.opts.SpeedFloor, s.opts.SpeedCeil)
	}

	s.emit(sim, s.jitterPosition(sim.Position), geo.NormalizeHeading(sim.Heading+s.noise(s.opts.HeadingJitterDeg)))
}

// remove drops a finished simulation and announces its terminal status. Must be called with s.mu held.
func (s *Simulator) remove(sim *Simulation) {
	delete(s.active, sim.TripID)
	s.pub.Broadcast(sim.TripID, domain.NewStatusUpdate(sim.TripID, sim.Status))
	s.log.Info("simulation "+string(sim.Status), "action", "simulation_"+string(sim.Status),
		"trip_id", sim.TripID, "driver_id", sim.DriverID, "waypoint", sim.Index)
}

// emit writes the reported fix and publishes a location_update for the trip.
func (s *Simulator) emit(sim *Simulation, at domain.Point, heading float64) {
	fix, err := s.store.Update(sim.DriverID, domain.LocationFix{
		Lat:      at.Lat,
		Lng:      at.Lng,
		Heading:  heading,
		Speed:    geo.RoundTo(sim.Speed, 1),
		Accuracy: s.opts.Accuracy,
	})
	if err != nil {
		s.log.Warn("store simulated fix", "action", "simulation_fix_rejected", "trip_id", sim.TripID, "error", err)
		return
	}

	remaining := sim.Remaining()
	eta, err := geo.EstimateTravelTime(remaining, s.opts.TrafficFactor, s.opts.RouteClass)
	if err != nil {
		eta = 0
	}
	s.pub.Broadcast(sim.TripID, domain.NewLocationUpdate(sim.TripID, fix, domain.RouteProgress{
		RemainingDistance: geo.RoundTo(remaining, 2),
		RemainingTime:     eta,
		Progress:          sim.Progress(),
	}))
}

func (s *Simulator) cruisingSpeed() float64 {
	return s.opts.MinSpeed + s.rng.Float64()*(s.opts.MaxSpeed-s.opts.MinSpeed)
}

// noise returns a uniform value in [-amp, amp].
func (s *Simulator) noise(amp float64) float64 {
	if amp == 0 {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * amp
}

const metersPerDegree = 111320

func (s *Simulator) jitterPosition(p domain.Point) domain.Point {
	if s.opts.PositionJitterM == 0 {
		return p
	}
	dLat := s.noise(s.opts.PositionJitterM) / metersPerDegree
	dLng := s.noise(s.opts.PositionJitterM) / (metersPerDegree * math.Max(math.Cos(p.Lat*math.Pi/180), 0.01))
	return domain.Point{
		Lat: geo.Clamp(p.Lat+dLat, -90, 90),
		Lng: geo.Clamp(p.Lng+dLng, -180, 180),
	}
}
