package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/thebowwman/fleetcast/internals/domain"
)

var (
	nalgonda   = domain.Point{Lat: 17.0477, Lng: 79.2666}
	miryalguda = domain.Point{Lat: 16.8700, Lng: 79.5900}
)

func TestDistanceSymmetricAndZero(t *testing.T) {
	ab, err := Distance(nalgonda, miryalguda)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Distance(miryalguda, nalgonda)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
	aa, _ := Distance(nalgonda, nalgonda)
	if aa != 0 {
		t.Fatalf("distance(a,a) = %v", aa)
	}
}

func TestCorridorDistanceAndETA(t *testing.T) {
	d, err := Distance(nalgonda, miryalguda)
	if err != nil {
		t.Fatal(err)
	}
	if d <= 30 || d >= 50 {
		t.Fatalf("corridor distance %v km outside (30,50)", d)
	}
	eta, err := EstimateTravelTime(d, 1.0, RouteHighway)
	if err != nil {
		t.Fatal(err)
	}
	if eta <= 30 || eta >= 90 {
		t.Fatalf("eta %d min outside (30,90)", eta)
	}
}

func TestEstimateTravelTime(t *testing.T) {
	cases := []struct {
		name    string
		km      float64
		traffic float64
		class   RouteClass
		want    int
		wantErr bool
	}{
		{"highway exact", 50, 1, RouteHighway, 60, false},
		{"city rounds up", 10.1, 1, RouteCity, 21, false},
		{"heavy traffic doubles", 30, 2, RouteCity, 120, false},
		{"zero distance", 0, 1, RouteCity, 0, false},
		{"nan distance", math.NaN(), 1, RouteCity, 0, true},
		{"negative distance", -1, 1, RouteCity, 0, true},
		{"zero traffic", 10, 0, RouteCity, 0, true},
		{"unknown class", 10, 1, RouteClass("dirt"), 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EstimateTravelTime(tc.km, tc.traffic, tc.class)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("want validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}

func TestDistanceRejectsNaN(t *testing.T) {
	_, err := Distance(domain.Point{Lat: math.NaN(), Lng: 1}, nalgonda)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestBearing(t *testing.T) {
	cases := []struct {
		name string
		to   domain.Point
		want float64
	}{
		{"north", domain.Point{Lat: 1, Lng: 0}, 0},
		{"east", domain.Point{Lat: 0, Lng: 1}, 90},
		{"south", domain.Point{Lat: -1, Lng: 0}, 180},
		{"west", domain.Point{Lat: 0, Lng: -1}, 270},
	}
	for _, tc := range cases {
		got := Bearing(domain.Point{}, tc.to)
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("%s: bearing %v out of range", tc.name, got)
		}
	}
}

func TestInterpolateClampsFraction(t *testing.T) {
	mid := Interpolate(nalgonda, miryalguda, 0.5)
	if math.Abs(mid.Lat-(nalgonda.Lat+miryalguda.Lat)/2) > 1e-12 {
		t.Fatalf("unexpected midpoint %+v", mid)
	}
	if got := Interpolate(nalgonda, miryalguda, -3); got != nalgonda {
		t.Fatalf("fraction below 0 should clamp to start, got %+v", got)
	}
	if got := Interpolate(nalgonda, miryalguda, 7); got != miryalguda {
		t.Fatalf("fraction above 1 should clamp to end, got %+v", got)
	}
	if got := Interpolate(nalgonda, miryalguda, math.NaN()); got != nalgonda {
		t.Fatalf("NaN fraction should stay at start, got %+v", got)
	}
}

func TestNormalizeHeading(t *testing.T) {
	for in, want := range map[float64]float64{-5: 355, 360: 0, 725: 5, 0: 0} {
		if got := NormalizeHeading(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v) = %v want %v", in, got, want)
		}
	}
}
