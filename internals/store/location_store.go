package store

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/thebowwman/fleetcast/internals/domain"
	"github.com/thebowwman/fleetcast/internals/geo"
)

type Options struct {
	StaleAfter       time.Duration
	EvictAfter       time.Duration
	GeohashPrecision uint
}

func DefaultOptions() Options {
	return Options{
		StaleAfter:       60 * time.Second,
		EvictAfter:       300 * time.Second,
		GeohashPrecision: 9,
	}
}

// LocationStore keeps the latest fix per driver. Writes overwrite; there is no history.
type LocationStore struct {
	mu   sync.RWMutex
	m    map[string]domain.LocationFix
	opts Options
	now  func() time.Time
	log  *slog.Logger
}

func NewLocationStore(opts Options, log *slog.Logger) *LocationStore {
	def := DefaultOptions()
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = def.EvictAfter
	}
	if opts.GeohashPrecision == 0 || opts.GeohashPrecision > 12 {
		opts.GeohashPrecision = def.GeohashPrecision
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocationStore{
		m:    make(map[string]domain.LocationFix),
		opts: opts,
		now:  time.Now,
		log:  log.With("component", "location_store"),
	}
}

func (s *LocationStore) Options() Options { return s.opts }

// Update validates and stores fix as the driver's latest position, stamping ObservedAt.
func (s *LocationStore) Update(driverID string, fix domain.LocationFix) (domain.LocationFix, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return domain.LocationFix{}, domain.Invalid("driverId", "required")
	}
	if !fix.IsValid() {
		return domain.LocationFix{}, domain.Invalid("location", "lat/lng missing or out of range")
	}
	if fix.Speed < 0 {
		return domain.LocationFix{}, domain.Invalid("speed", "must not be negative")
	}
	if fix.Accuracy < 0 {
		return domain.LocationFix{}, domain.Invalid("accuracy", "must not be negative")
	}

	fix.DriverID = driverID
	fix.Heading = geo.NormalizeHeading(fix.Heading)
	fix.Geohash = geohash.EncodeWithPrecision(fix.Lat, fix.Lng, s.opts.GeohashPrecision)
	fix.IsStale = false

	s.mu.Lock()
	fix.ObservedAt = s.now()
	s.m[driverID] = fix
	s.mu.Unlock()

	return fix, nil
}

// Get returns the driver's fix, flagged stale when older than StaleAfter.
func (s *LocationStore) Get(driverID string) (domain.LocationFix, error) {
	s.mu.RLock()
	fix, ok := s.m[driverID]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return domain.LocationFix{}, domain.ErrNotFound
	}
	fix.IsStale = now.Sub(fix.ObservedAt) > s.opts.StaleAfter
	return fix, nil
}

// ListActive returns every fix younger than maxAge, in no particular order.
// A non-positive maxAge means EvictAfter.
func (s *LocationStore) ListActive(maxAge time.Duration) []domain.LocationFix {
	if maxAge <= 0 {
		maxAge = s.opts.EvictAfter
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]domain.LocationFix, 0, len(s.m))
	for _, fix := range s.m {
		age := now.Sub(fix.ObservedAt)
		if age >= maxAge {
			continue
		}
		fix.IsStale = age > s.opts.StaleAfter
		out = append(out, fix)
	}
	return out
}

// ListFresh returns only fixes that are not stale.
func (s *LocationStore) ListFresh() []domain.LocationFix {
	return s.ListActive(s.opts.StaleAfter + time.Nanosecond)
}

// EvictStale deletes fixes at least maxAge old and returns how many were removed.
func (s *LocationStore) EvictStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = s.opts.EvictAfter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, fix := range s.m {
		if now.Sub(fix.ObservedAt) >= maxAge {
			delete(s.m, id)
			removed++
		}
	}
	return removed
}

// Clear drops one driver's fix. It reports whether a fix was present.
func (s *LocationStore) Clear(driverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[driverID]; !ok {
		return false
	}
	delete(s.m, driverID)
	return true
}

func (s *LocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

type Neighbor struct {
	domain.LocationFix
	DistanceKm float64 `json:"distanceKm"`
}

// Nearby returns fresh fixes within radiusKm of center, closest first.
// Candidates come from the geohash cell of center and its eight neighbours.
func (s *LocationStore) Nearby(center domain.Point, radiusKm float64) ([]Neighbor, error) {
	if !center.IsValid() {
		return nil, domain.Invalid("center", "coordinates out of range")
	}
	if !(radiusKm > 0) {
		return nil, domain.Invalid("radiusKm", "must be positive")
	}

	prec := cellPrecision(radiusKm, center.Lat)
	if prec > s.opts.GeohashPrecision {
		prec = s.opts.GeohashPrecision
	}
	hash := geohash.EncodeWithPrecision(center.Lat, center.Lng, prec)
	cells := append(geohash.Neighbors(hash), hash)

	out := []Neighbor{}
	for _, fix := range s.ListFresh() {
		if !inCells(fix.Geohash, cells) {
			continue
		}
		d := geo.Haversine(center.Lat, center.Lng, fix.Lat, fix.Lng)
		if d <= radiusKm {
			out = append(out, Neighbor{LocationFix: fix, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// cellSize returns the height and width in km of a geohash cell of length prec at lat.
// Cells span fixed degrees, so their width shrinks with cos(lat).
func cellSize(prec uint, lat float64) (heightKm, widthKm float64) {
	bits := 5 * prec
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	latDeg := 180 / math.Pow(2, float64(latBits))
	lngDeg := 360 / math.Pow(2, float64(lngBits))
	kmPerDeg := geo.EarthRadiusKm * math.Pi / 180
	return latDeg * kmPerDeg, lngDeg * kmPerDeg * math.Cos(lat*math.Pi/180)
}

// cellPrecision picks the longest geohash whose cells at lat still span radiusKm
// in both directions, so the 3x3 block around the centre covers the search circle.
func cellPrecision(radiusKm, lat float64) uint {
	var p uint = 1
	for i := uint(1); i <= 12; i++ {
		h, w := cellSize(i, lat)
		if h < radiusKm || w < radiusKm {
			break
		}
		p = i
	}
	return p
}

func inCells(hash string, cells []string) bool {
	for _, c := range cells {
		if strings.HasPrefix(hash, c) {
			return true
		}
	}
	return false
}

// Run sweeps out fixes older than EvictAfter every interval until ctx is done.
func (s *LocationStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.opts.StaleAfter
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.EvictStale(s.opts.EvictAfter); n > 0 {
				s.log.Info("evicted stale fixes", "action", "location_evicted", "count", n)
			}
		}
	}
}
