package quantfield

import (
	"math"
	"testing"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/image2d"
)

func TestTileDistMapUniformDiffmapIsUniform(t *testing.T) {
	diffmap := image2d.FillImageF(16, 16, 0.5)
	ac := acstrategy.NewImage(2, 2)
	out := TileDistMap(diffmap, 0, ac)
	want := 1.2 * math.Pow(0.5, 16.0/16.0)
	for y := 0; y < 2; y++ {
		for _, v := range out.ConstRow(y) {
			if math.Abs(v-want) > 1e-9 {
				t.Fatalf("got %v, want %v", v, want)
			}
		}
	}
}

func TestTileDistMapBroadcastsOverSpan(t *testing.T) {
	diffmap := image2d.NewImageF(32, 32)
	for y := 0; y < 32; y++ {
		row := diffmap.Row(y)
		for x := 0; x < 16; x++ {
			row[x] = 0.8
		}
		for x := 16; x < 32; x++ {
			row[x] = 0.1
		}
	}
	ac := acstrategy.NewImage(4, 4)
	ac.SetSpan(0, 0, acstrategy.DCT16x16)
	out := TileDistMap(diffmap, 0, ac)

	v00 := out.Get(0, 0)
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			if out.Get(dx, dy) != v00 {
				t.Fatalf("span cells must share the same tile distance")
			}
		}
	}
}

func TestTileDistMapMarginChangesResult(t *testing.T) {
	diffmap := image2d.NewImageF(24, 24)
	for y := 0; y < 24; y++ {
		row := diffmap.Row(y)
		for x := 0; x < 24; x++ {
			if x >= 8 && x < 16 && y >= 8 && y < 16 {
				row[x] = 0.9
			} else {
				row[x] = 0.1
			}
		}
	}
	ac := acstrategy.NewImage(3, 3)
	noMargin := TileDistMap(diffmap, 0, ac).Get(1, 1)
	withMargin := TileDistMap(diffmap, 2, ac).Get(1, 1)
	if noMargin == withMargin {
		t.Fatalf("widening the margin should change the sampled tile distance when neighbors differ")
	}
}

func TestDistToPeakMapSentinelFarFromPeak(t *testing.T) {
	field := image2d.FillImageF(20, 20, 0)
	field.Set(10, 10, 5)
	out := DistToPeakMap(field, 1.0, 2, 0.5)
	if out.Get(0, 0) != -1 {
		t.Fatalf("cell far from any peak should keep the -1 sentinel, got %v", out.Get(0, 0))
	}
}

func TestDistToPeakMapZeroAtThePeak(t *testing.T) {
	field := image2d.FillImageF(20, 20, 0)
	field.Set(10, 10, 5)
	out := DistToPeakMap(field, 1.0, 3, 0.5)
	if out.Get(10, 10) != 0 {
		t.Fatalf("the peak cell itself should have distance 0, got %v", out.Get(10, 10))
	}
}

func TestDistToPeakMapMonotonicWithChebyshevDistance(t *testing.T) {
	field := image2d.FillImageF(20, 20, 0)
	field.Set(10, 10, 5)
	out := DistToPeakMap(field, 1.0, 4, 0.5)
	d1 := out.Get(11, 10)
	d2 := out.Get(12, 10)
	if d1 < 0 || d2 < 0 {
		t.Fatalf("cells within local_radius of the peak should be stamped, got d1=%v d2=%v", d1, d2)
	}
	if d1 != 1 || d2 != 2 {
		t.Fatalf("expected Chebyshev distances 1 and 2, got %v and %v", d1, d2)
	}
}

func TestDistToPeakMapRequiresClearingThreshold(t *testing.T) {
	field := image2d.FillImageF(10, 10, 1.0)
	out := DistToPeakMap(field, 1.0, 2, 0.5)
	for y := 0; y < 10; y++ {
		for _, v := range out.ConstRow(y) {
			if v != -1 {
				t.Fatalf("a field that never clears peak_min should leave every cell as -1, got %v", v)
			}
		}
	}
}
