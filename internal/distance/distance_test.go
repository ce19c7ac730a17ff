package distance

import (
	"math"
	"testing"
)

func TestEstimateAtReferencePower(t *testing.T) {
	if got := Estimate(-59, -59, 2); got != 1.0 {
		t.Errorf("Estimate(-59, -59, 2) = %v, want 1.0", got)
	}
}

func TestEstimateKnownValues(t *testing.T) {
	tests := []struct {
		rssi, tx, n float64
		want        float64
	}{
		{-79, -59, 2, 10},
		{-69, -59, 2, 3.16},
		{-49, -59, 2, 0.32},
		{-84, -59, 2.5, 10},
		{-50, -59, 2.5, 0.44},
	}
	for _, tt := range tests {
		if got := Estimate(tt.rssi, tt.tx, tt.n); got != tt.want {
			t.Errorf("Estimate(%v, %v, %v) = %v, want %v", tt.rssi, tt.tx, tt.n, got, tt.want)
		}
	}
}

func TestEstimateMonotonic(t *testing.T) {
	c := DefaultCalibration()
	prev := c.Estimate(-30)
	for rssi := -31.0; rssi >= -100; rssi-- {
		d := c.Estimate(rssi)
		if d < prev {
			t.Fatalf("Estimate(%v) = %v < Estimate(%v) = %v", rssi, d, rssi+1, prev)
		}
		prev = d
	}
	if c.Estimate(-70) <= c.Estimate(-60) {
		t.Error("weaker signal must be farther away")
	}
}

func TestEstimateNonPositiveExponent(t *testing.T) {
	if got, want := Estimate(-79, -59, 0), Estimate(-79, -59, DefaultPathLoss); got != want {
		t.Errorf("Estimate with n=0 = %v, want default exponent result %v", got, want)
	}
}

func TestEstimateFinite(t *testing.T) {
	for _, rssi := range []float64{-200, -100, 0, 20} {
		if d := Estimate(rssi, -59, 2); math.IsNaN(d) || math.IsInf(d, 0) {
			t.Errorf("Estimate(%v) = %v, want finite", rssi, d)
		}
	}
}

func TestHaversine(t *testing.T) {
	if got := Haversine(51.5, -0.12, 51.5, -0.12); got != 0 {
		t.Errorf("same point distance = %v, want 0", got)
	}
	// One degree of latitude is ~111 km.
	got := Haversine(0, 0, 1, 0)
	if got < 111000 || got > 111400 {
		t.Errorf("one degree latitude = %v m, want ~111195", got)
	}
}
