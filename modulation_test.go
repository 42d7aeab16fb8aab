package quantfield

import (
	"math"
	"testing"

	"github.com/opsinfield/quantfield/internal/image2d"
)

func TestComputeMaskFiniteAcrossRange(t *testing.T) {
	for _, v := range []float64{0, 0.001, 0.1, 1, 10, 100} {
		got := computeMask(v)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("computeMask(%v) = %v, want finite", v, got)
		}
	}
}

func TestDctModulationZeroBlockIsZero(t *testing.T) {
	field := image2d.NewImageF(8, 8)
	got := dctModulation(field, 0, 0)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("dctModulation of an all-zero block should be ~0, got %v", got)
	}
}

func TestRangeModulationClampedToSevenRange(t *testing.T) {
	x := image2d.FillImageF(8, 8, 0)
	y := image2d.FillImageF(8, 8, 0)
	// Inject extreme variance to try to exceed the clamp.
	for i := 0; i < 8; i++ {
		x.Set(i, 0, float64(i)*1000)
		y.Set(i, 0, float64(i)*1000)
	}
	got := rangeModulation(x, y, 0, 0)
	if got > 7 || got < -7 {
		t.Fatalf("rangeModulation(%v) exceeds the [-7,7] clamp", got)
	}
}

func TestRangeModulationFlatBlockIsZeroRange(t *testing.T) {
	x := image2d.FillImageF(8, 8, 0.3)
	y := image2d.FillImageF(8, 8, 0.3)
	got := rangeModulation(x, y, 0, 0)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("rangeModulation of a flat block should be ~0, got %v", got)
	}
}

func TestHfModulationFlatBlockIsZero(t *testing.T) {
	y := image2d.FillImageF(8, 8, 0.5)
	got := hfModulation(y, 0, 0)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("hfModulation of a flat block should be ~0, got %v", got)
	}
}

func TestHfModulationNonPositiveForVaryingBlock(t *testing.T) {
	y := image2d.NewImageF(8, 8)
	for j := 0; j < 8; j++ {
		row := y.Row(j)
		for i := 0; i < 8; i++ {
			if (i+j)%2 == 0 {
				row[i] = 1
			} else {
				row[i] = -1
			}
		}
	}
	got := hfModulation(y, 0, 0)
	if got > 0 {
		t.Fatalf("hfModulation should be <= 0 (kMul is negative) for a high-frequency block, got %v", got)
	}
}

func TestGammaModulationFiniteAndBiasGreaterThanAbsorbance(t *testing.T) {
	x := image2d.FillImageF(8, 8, 0.05)
	y := image2d.FillImageF(8, 8, 0.1)
	got := gammaModulation(x, y, 0, 0)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("gammaModulation should be finite, got %v", got)
	}
}

func TestPerBlockModulationsScalesOutput(t *testing.T) {
	field1 := image2d.FillImageF(1, 1, 0.5)
	field2 := field1.CopyOf()
	intensityACX := image2d.NewImageF(8, 8)
	intensityACY := image2d.NewImageF(8, 8)

	PerBlockModulations(field1, intensityACX, intensityACY, 1.0, nil)
	PerBlockModulations(field2, intensityACX, intensityACY, 2.0, nil)

	got1, got2 := field1.Get(0, 0), field2.Get(0, 0)
	if math.Abs(got2-2*got1) > 1e-9 {
		t.Fatalf("doubling scale should double the exponentiated output: got1=%v got2=%v", got1, got2)
	}
}
