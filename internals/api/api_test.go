package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thebowwman/fleetcast/internals/auth"
	"github.com/thebowwman/fleetcast/internals/domain"
	"github.com/thebowwman/fleetcast/internals/tracking"
)

type testAPI struct {
	router     *gin.Engine
	svc        *tracking.Service
	dispatcher string
	driver     string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	svc := tracking.New(tracking.Options{}, nil)
	r := gin.New()
	RegisterRoutes(r, svc, issuer, nil)

	disp, err := issuer.MakeToken("", auth.RoleDispatcher)
	if err != nil {
		t.Fatal(err)
	}
	drv, err := issuer.MakeToken("DRV-1", auth.RoleDriver)
	if err != nil {
		t.Fatal(err)
	}
	return &testAPI{router: r, svc: svc, dispatcher: disp, driver: drv}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz %d", w.Code)
	}
}

func TestRequiresToken(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(t, http.MethodGet, "/v1/simulations", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/v1/simulations", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 for bad token, got %d", w.Code)
	}
}

func TestDriverLocationFlow(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{"lat": 17.05, "lng": 79.27, "heading": 370, "speed": 40}

	w := a.do(t, http.MethodPost, "/v1/drivers/DRV-1/location", a.driver, body)
	if w.Code != http.StatusOK {
		t.Fatalf("own update: %d %s", w.Code, w.Body)
	}
	var fix domain.LocationFix
	decode(t, w, &fix)
	if fix.Heading != 10 || fix.DriverID != "DRV-1" {
		t.Fatalf("unexpected fix %+v", fix)
	}

	if w := a.do(t, http.MethodPost, "/v1/drivers/DRV-2/location", a.driver, body); w.Code != http.StatusForbidden {
		t.Fatalf("foreign update: want 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/drivers/DRV-2/location", a.dispatcher, body); w.Code != http.StatusOK {
		t.Fatalf("dispatcher update: %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/drivers/DRV-1/location", a.driver, map[string]any{"lat": 95, "lng": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("out of range: want 400, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/drivers/DRV-1/location", a.driver, map[string]any{"lat": 17}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing lng: want 400, got %d", w.Code)
	}

	if w := a.do(t, http.MethodGet, "/v1/drivers/DRV-1/location", a.driver, nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/v1/drivers/nobody/location", a.driver, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown driver: want 404, got %d", w.Code)
	}

	var active struct {
		Count int `json:"count"`
	}
	decode(t, a.do(t, http.MethodGet, "/v1/drivers/active", a.driver, nil), &active)
	if active.Count != 2 {
		t.Fatalf("want 2 active drivers, got %d", active.Count)
	}

	var near struct {
		Count int `json:"count"`
	}
	decode(t, a.do(t, http.MethodGet, "/v1/drivers/nearby?lat=17.05&lng=79.27&radiusKm=1", a.driver, nil), &near)
	if near.Count != 2 {
		t.Fatalf("want 2 nearby drivers, got %d", near.Count)
	}

	if w := a.do(t, http.MethodDelete, "/v1/drivers/DRV-1/location", a.driver, nil); w.Code != http.StatusForbidden {
		t.Fatalf("driver clear: want 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodDelete, "/v1/drivers/DRV-1/location", a.dispatcher, nil); w.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", w.Code)
	}
	if w := a.do(t, http.MethodDelete, "/v1/drivers/DRV-1/location", a.dispatcher, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second clear: want 404, got %d", w.Code)
	}
}

func TestSimulationLifecycle(t *testing.T) {
	a := newTestAPI(t)
	start := map[string]any{"tripId": "BOOK-1", "driverId": "DRV-1"}

	if w := a.do(t, http.MethodPost, "/v1/simulations", a.driver, start); w.Code != http.StatusForbidden {
		t.Fatalf("driver start: want 403, got %d", w.Code)
	}
	w := a.do(t, http.MethodPost, "/v1/simulations", a.dispatcher, start)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	var started struct {
		Started    bool                      `json:"started"`
		Simulation domain.SimulationSnapshot `json:"simulation"`
	}
	decode(t, w, &started)
	if !started.Started || started.Simulation.Status != domain.StatusActive {
		t.Fatalf("unexpected start response %+v", started)
	}
	padded := map[string]any{"tripId": "  BOOK-3 ", "driverId": "DRV-3"}
	w = a.do(t, http.MethodPost, "/v1/simulations", a.dispatcher, padded)
	var paddedResp struct {
		Simulation domain.SimulationSnapshot `json:"simulation"`
	}
	decode(t, w, &paddedResp)
	if w.Code != http.StatusCreated || paddedResp.Simulation.TripID != "BOOK-3" {
		t.Fatalf("padded trip id: %d %+v", w.Code, paddedResp.Simulation)
	}
	if w := a.do(t, http.MethodDelete, "/v1/simulations/BOOK-3", a.dispatcher, nil); w.Code != http.StatusNoContent {
		t.Fatalf("stop padded trip: %d", w.Code)
	}

	if w := a.do(t, http.MethodPost, "/v1/simulations", a.dispatcher, start); w.Code != http.StatusConflict {
		t.Fatalf("duplicate start: want 409, got %d", w.Code)
	}
	bad := map[string]any{"tripId": "BOOK-2", "driverId": "DRV-2", "route": []map[string]float64{{"lat": 17, "lng": 79}}}
	if w := a.do(t, http.MethodPost, "/v1/simulations", a.dispatcher, bad); w.Code != http.StatusBadRequest {
		t.Fatalf("one-point route: want 400, got %d", w.Code)
	}

	if w := a.do(t, http.MethodPost, "/v1/simulations/BOOK-1/pause", a.dispatcher, nil); w.Code != http.StatusOK {
		t.Fatalf("pause: %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/simulations/BOOK-1/pause", a.dispatcher, nil); w.Code != http.StatusConflict {
		t.Fatalf("double pause: want 409, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/simulations/BOOK-1/resume", a.dispatcher, nil); w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/simulations/nope/pause", a.dispatcher, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown pause: want 404, got %d", w.Code)
	}

	var list struct {
		Count int `json:"count"`
	}
	decode(t, a.do(t, http.MethodGet, "/v1/simulations", a.driver, nil), &list)
	if list.Count != 1 {
		t.Fatalf("want 1 simulation, got %d", list.Count)
	}

	if w := a.do(t, http.MethodDelete, "/v1/simulations/BOOK-1", a.dispatcher, nil); w.Code != http.StatusNoContent {
		t.Fatalf("stop: %d", w.Code)
	}
	if w := a.do(t, http.MethodDelete, "/v1/simulations/BOOK-1", a.dispatcher, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second stop: want 404, got %d", w.Code)
	}
}

func TestGeoEndpoints(t *testing.T) {
	a := newTestAPI(t)

	var dist struct {
		DistanceKm float64 `json:"distanceKm"`
	}
	w := a.do(t, http.MethodPost, "/v1/geo/distance", a.driver, map[string]any{
		"from": map[string]float64{"lat": 17.0575, "lng": 79.2690},
		"to":   map[string]float64{"lat": 16.8722, "lng": 79.5625},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("distance: %d %s", w.Code, w.Body)
	}
	decode(t, w, &dist)
	if dist.DistanceKm < 30 || dist.DistanceKm > 50 {
		t.Fatalf("corridor distance %.2f km outside 30..50", dist.DistanceKm)
	}
	if w := a.do(t, http.MethodPost, "/v1/geo/distance", a.driver, map[string]any{"from": map[string]float64{"lat": 1, "lng": 1}}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing to: want 400, got %d", w.Code)
	}

	var eta struct {
		Minutes int `json:"minutes"`
	}
	w = a.do(t, http.MethodPost, "/v1/geo/eta", a.driver, map[string]any{"distanceKm": 50})
	decode(t, w, &eta)
	if eta.Minutes != 60 {
		t.Fatalf("eta %d, want 60", eta.Minutes)
	}
	if w := a.do(t, http.MethodPost, "/v1/geo/eta", a.driver, map[string]any{"distanceKm": 5, "trafficFactor": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("zero traffic factor: want 400, got %d", w.Code)
	}
}

func TestNotifyAndStats(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{"title": "Driver arriving", "body": "2 min"}

	if w := a.do(t, http.MethodPost, "/v1/users/U-1/notifications", a.driver, body); w.Code != http.StatusForbidden {
		t.Fatalf("driver notify: want 403, got %d", w.Code)
	}
	w := a.do(t, http.MethodPost, "/v1/users/U-1/notifications", a.dispatcher, body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("notify: %d %s", w.Code, w.Body)
	}
	if w := a.do(t, http.MethodPost, "/v1/users/U-1/notifications", a.dispatcher, map[string]any{"body": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing title: want 400, got %d", w.Code)
	}

	var stats struct {
		Connections int `json:"connections"`
	}
	decode(t, a.do(t, http.MethodGet, "/v1/hub/stats", a.driver, nil), &stats)
	if stats.Connections != 0 {
		t.Fatalf("want 0 connections, got %d", stats.Connections)
	}
}
