// Package tracking wires the location store, the movement simulator and the
// broadcast hub into one service with an explicit lifecycle. Booking and driver
// handlers talk to the fleet only through this type.
package tracking

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thebowwman/fleetcast/internals/domain"
	"github.com/thebowwman/fleetcast/internals/geo"
	"github.com/thebowwman/fleetcast/internals/hub"
	"github.com/thebowwman/fleetcast/internals/sim"
	"github.com/thebowwman/fleetcast/internals/store"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Store         store.Options
	Sim           sim.Options
	Hub           hub.Options
	SweepInterval time.Duration
}

type Service struct {
	store *store.LocationStore
	sim   *sim.Simulator
	hub   *hub.Hub

	sweepEvery time.Duration
	log        *slog.Logger
}

func New(opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	h := hub.New(opts.Hub, log)
	st := store.NewLocationStore(opts.Store, log)
	return &Service{
		store:      st,
		hub:        h,
		sim:        sim.New(st, h, opts.Sim, log),
		sweepEvery: opts.SweepInterval,
		log:        log,
	}
}

// Run drives the tick loop, the heartbeat and the eviction sweep until ctx is done.
// On return every simulation is cancelled and every connection closed.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sim.Run(ctx) })
	g.Go(func() error { return s.hub.Run(ctx) })
	g.Go(func() error { return s.store.Run(ctx, s.sweepEvery) })

	s.log.Info("tracking started", "action", "tracking_started")
	err := g.Wait()

	s.sim.Shutdown()
	s.hub.Close()
	s.log.Info("tracking stopped", "action", "tracking_stopped")
	return err
}

// ServeWS hands a websocket upgrade request to the hub.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request) { s.hub.ServeWS(w, r) }

// LocationInput is a manual fix. Lat and Lng are required.
type LocationInput struct {
	Lat      *float64
	Lng      *float64
	Heading  *float64
	Speed    *float64
	Accuracy *float64
}

func (s *Service) UpdateDriverLocation(driverID string, in LocationInput) (domain.LocationFix, error) {
	if in.Lat == nil || in.Lng == nil {
		return domain.LocationFix{}, domain.Invalid("location", "lat and lng are required")
	}
	fix := domain.LocationFix{Lat: *in.Lat, Lng: *in.Lng}
	if in.Heading != nil {
		fix.Heading = *in.Heading
	}
	if in.Speed != nil {
		fix.Speed = *in.Speed
	}
	if in.Accuracy != nil {
		fix.Accuracy = *in.Accuracy
	}
	return s.store.Update(driverID, fix)
}

func (s *Service) GetDriverLocation(driverID string) (domain.LocationFix, error) {
	return s.store.Get(driverID)
}

func (s *Service) ClearDriverLocation(driverID string) bool {
	return s.store.Clear(driverID)
}

// ListActiveDrivers returns fixes younger than maxAge; zero means the eviction window.
func (s *Service) ListActiveDrivers(maxAge time.Duration) []domain.LocationFix {
	return s.store.ListActive(maxAge)
}

func (s *Service) NearbyDrivers(center domain.Point, radiusKm float64) ([]store.Neighbor, error) {
	return s.store.Nearby(center, radiusKm)
}

func (s *Service) StartSimulation(tripID, driverID string, route []domain.Point) (bool, error) {
	return s.sim.Start(tripID, driverID, route)
}

func (s *Service) StopSimulation(tripID string) bool { return s.sim.Stop(tripID) }

func (s *Service) PauseSimulation(tripID string) bool { return s.sim.Pause(tripID) }

func (s *Service) ResumeSimulation(tripID string) bool { return s.sim.Resume(tripID) }

func (s *Service) GetSimulation(tripID string) (domain.SimulationSnapshot, error) {
	snap, ok := s.sim.Get(tripID)
	if !ok {
		return domain.SimulationSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *Service) ListActiveSimulations() []domain.SimulationSnapshot { return s.sim.List() }

func (s *Service) CalculateDistance(p1, p2 domain.Point) (float64, error) {
	return geo.Distance(p1, p2)
}

// EstimateTravelTime defaults to free-flowing traffic on a highway.
func (s *Service) EstimateTravelTime(distanceKm float64, trafficFactor *float64, routeClass string) (int, error) {
	factor := 1.0
	if trafficFactor != nil {
		factor = *trafficFactor
	}
	class := geo.RouteHighway
	if routeClass != "" {
		class = geo.RouteClass(strings.ToLower(routeClass))
	}
	return geo.EstimateTravelTime(distanceKm, factor, class)
}

// Notify pushes an out-of-band notification to everyone subscribed to the user's topic.
func (s *Service) Notify(userID, title, body string, data map[string]any) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.Invalid("userId", "required")
	}
	if strings.TrimSpace(title) == "" {
		return 0, domain.Invalid("title", "required")
	}
	n := s.hub.Notify(userID, &domain.Notification{Title: title, Body: body, Data: data})
	s.log.Debug("notification sent", "action", "notification_sent", "user_id", userID, "delivered", n)
	return n, nil
}

func (s *Service) HubStats() hub.Stats { return s.hub.Stats() }
