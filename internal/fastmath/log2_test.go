package fastmath

import (
	"math"
	"testing"
)

func TestLog2f18PowersOfTwoAreExact(t *testing.T) {
	for exp := -10; exp <= 10; exp++ {
		v := float32(math.Pow(2, float64(exp)))
		got := Log2f18(v)
		if math.Abs(float64(got)-float64(exp)) > 1e-3 {
			t.Errorf("Log2f18(2^%d) = %v, want %v", exp, got, exp)
		}
	}
}

func TestLog2f18MonotonicAndApproximate(t *testing.T) {
	prev := Log2f18(0.01)
	for _, v := range []float32{0.1, 0.5, 1, 2, 4, 8, 100, 1000} {
		got := Log2f18(v)
		if got <= prev {
			t.Fatalf("Log2f18 must be monotonically increasing, got %v <= %v at v=%v", got, prev, v)
		}
		want := math.Log2(float64(v))
		if math.Abs(float64(got)-want) > 0.05 {
			t.Errorf("Log2f18(%v) = %v, too far from true log2 %v", v, got, want)
		}
		prev = got
	}
}

func TestLog2f18ClampsNonPositiveInput(t *testing.T) {
	if math.IsNaN(float64(Log2f18(0))) {
		t.Fatalf("Log2f18(0) must not be NaN")
	}
	if math.IsNaN(float64(Log2f18(-5))) {
		t.Fatalf("Log2f18(negative) must not be NaN")
	}
	// Clamped to the smallest positive float32, so the result should be a
	// large negative number, not +/-Inf.
	if math.IsInf(float64(Log2f18(0)), 0) {
		t.Fatalf("Log2f18(0) must not be infinite")
	}
}
