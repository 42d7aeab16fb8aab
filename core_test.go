package quantfield

import (
	"math"
	"testing"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/image2d"
)

func flatOpsin(w, h int, x, y, b float64) *image2d.Image3F {
	im := image2d.NewImage3F(w, h)
	im.Plane(0).Fill(x)
	im.Plane(1).Fill(y)
	im.Plane(2).Fill(b)
	return im
}

func noisyOpsin(w, h int) *image2d.Image3F {
	im := image2d.NewImage3F(w, h)
	for yy := 0; yy < h; yy++ {
		xr := im.PlaneRow(0, yy)
		yr := im.PlaneRow(1, yy)
		br := im.PlaneRow(2, yy)
		for xx := 0; xx < w; xx++ {
			xr[xx] = math.Sin(float64(xx)*0.7) * 0.1
			yr[xx] = math.Cos(float64(yy)*0.3) * 0.2
			br[xx] = math.Sin(float64(xx+yy)) * 0.05
		}
	}
	return im
}

func TestIntensityAcEstimateFlatImageIsZero(t *testing.T) {
	p := image2d.FillImageF(9, 9, 0.4)
	out := IntensityAcEstimate(p, nil)
	for y := 0; y < 9; y++ {
		for _, v := range out.ConstRow(y) {
			if math.Abs(v) > 1e-9 {
				t.Fatalf("IntensityAcEstimate of a flat plane should be ~0, got %v", v)
			}
		}
	}
}

func TestRatioDCubeRootOverDSimpleGammaInverseRoundTrips(t *testing.T) {
	for _, v := range []float64{0.01, 0.1, 1, 5, 20} {
		fwd := ratioDCubeRootOverDSimpleGamma(v, false)
		inv := ratioDCubeRootOverDSimpleGamma(v, true)
		if math.Abs(fwd*inv-1) > 1e-9 {
			t.Errorf("forward*inverse at v=%v = %v, want 1", v, fwd*inv)
		}
	}
}

func TestRatioDCubeRootOverDSimpleGammaClampsNegative(t *testing.T) {
	a := ratioDCubeRootOverDSimpleGamma(-5, false)
	b := ratioDCubeRootOverDSimpleGamma(0, false)
	if a != b {
		t.Fatalf("negative input should clamp to 0: got %v, want %v", a, b)
	}
}

func TestDiffPrecomputePadsToMultipleOf8(t *testing.T) {
	opsin := noisyOpsin(10, 6)
	out := DiffPrecompute(opsin, nil)
	if out.XSize()%8 != 0 || out.YSize()%8 != 0 {
		t.Fatalf("DiffPrecompute output %dx%d is not padded to a multiple of 8", out.XSize(), out.YSize())
	}
	if out.XSize() < 10 || out.YSize() < 6 {
		t.Fatalf("DiffPrecompute output %dx%d smaller than source", out.XSize(), out.YSize())
	}
}

func TestDiffPrecomputeFlatImageIsZero(t *testing.T) {
	opsin := flatOpsin(16, 16, 0, 0.2, 0)
	out := DiffPrecompute(opsin, nil)
	for y := 0; y < out.YSize(); y++ {
		for _, v := range out.ConstRow(y) {
			if math.Abs(v) > 1e-9 {
				t.Fatalf("DiffPrecompute of a flat plane should be ~0, got %v", v)
			}
		}
	}
}

func TestDownsampleBy8ShrinksByStride(t *testing.T) {
	diff := image2d.NewImageF(32, 24)
	out := downsampleBy8(diff)
	if out.XSize() != 4 || out.YSize() != 3 {
		t.Fatalf("downsampleBy8(32x24) = %dx%d, want 4x3", out.XSize(), out.YSize())
	}
}

func TestAdaptiveQuantizationMapFlatImageIsUniform(t *testing.T) {
	opsin := flatOpsin(32, 32, 0, 0, 0)
	field := AdaptiveQuantizationMap(opsin, 1.0, nil)
	min, max := field.MinMax()
	if math.Abs(max-min) > 1e-6 {
		t.Fatalf("flat input should produce a uniform field, got min=%v max=%v", min, max)
	}
}

func TestInitialQuantDCMonotonicAndBounded(t *testing.T) {
	prev := InitialQuantDC(0.1)
	if prev > 50.0 {
		t.Fatalf("InitialQuantDC must never exceed 50, got %v", prev)
	}
	for _, target := range []float64{0.5, 1, 2, 5, 10} {
		got := InitialQuantDC(target)
		if got > 50.0 {
			t.Fatalf("InitialQuantDC(%v) = %v, exceeds 50", target, got)
		}
		if got > prev {
			t.Fatalf("InitialQuantDC should be non-increasing in target: at %v got %v > prev %v", target, got, prev)
		}
		prev = got
	}
}

func TestAdjustQuantFieldBroadcastsMaxOverSpan(t *testing.T) {
	ac := acstrategy.NewImage(4, 4)
	ac.SetSpan(0, 0, acstrategy.DCT16x16)
	field := image2d.NewImageF(4, 4)
	field.Set(0, 0, 1)
	field.Set(1, 0, 5)
	field.Set(0, 1, 2)
	field.Set(1, 1, 3)

	AdjustQuantField(field, ac)

	for dy := 0; dy < 2; dy++ {
		row := field.Row(dy)
		for dx := 0; dx < 2; dx++ {
			if row[dx] != 5 {
				t.Fatalf("span cell (%d,%d) = %v, want broadcast max 5", dx, dy, row[dx])
			}
		}
	}
	// Untouched cell outside the span keeps its original value.
	if field.Get(2, 2) != 0 {
		t.Fatalf("cell outside the span should be untouched")
	}
}

func TestAdjustQuantFieldIsIdempotent(t *testing.T) {
	ac := acstrategy.NewImage(4, 4)
	ac.SetSpan(2, 2, acstrategy.DCT16x16)
	field := image2d.NewImageF(4, 4)
	field.Set(2, 2, 1)
	field.Set(3, 2, 4)
	field.Set(2, 3, 2)
	field.Set(3, 3, 7)

	AdjustQuantField(field, ac)
	once := field.CopyOf()
	AdjustQuantField(field, ac)

	for y := 0; y < 4; y++ {
		r1, r2 := once.ConstRow(y), field.ConstRow(y)
		for x := 0; x < 4; x++ {
			if r1[x] != r2[x] {
				t.Fatalf("AdjustQuantField not idempotent at (%d,%d): %v vs %v", x, y, r1[x], r2[x])
			}
		}
	}
}

func TestAdjustQuantFieldSkipsIndependentBlocks(t *testing.T) {
	ac := acstrategy.NewImage(2, 2)
	field := image2d.NewImageF(2, 2)
	field.Set(0, 0, 1)
	field.Set(1, 0, 2)
	field.Set(0, 1, 3)
	field.Set(1, 1, 4)
	before := field.CopyOf()

	AdjustQuantField(field, ac)

	for y := 0; y < 2; y++ {
		r1, r2 := before.ConstRow(y), field.ConstRow(y)
		for x := 0; x < 2; x++ {
			if r1[x] != r2[x] {
				t.Fatalf("independent DCT8x8 blocks must be untouched")
			}
		}
	}
}
