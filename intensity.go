package quantfield

import (
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// Symmetric3 weights: DC-preserving 3x3 blur, center/edge/corner.
// spec.md §4.1. Sum over the full 3x3 neighborhood (center + 4 edges +
// 4 corners) is 1: w0 + 4*w1 + 4*w2 = 1.
const (
	symmetric3W0 = 0.320356
	symmetric3W1 = 0.122822
	symmetric3W2 = 0.047089
)

// symmetric3 computes a separable-weight 3x3 DC-preserving blur of src
// into a freshly allocated image, mirroring at the boundary (the first/
// last row or column is reflected rather than padded with zero).
func symmetric3(src *image2d.ImageF) *image2d.ImageF {
	w, h := src.XSize(), src.YSize()
	out := image2d.NewImageF(w, h)

	mirror := func(v, limit int) int {
		if v < 0 {
			return -v
		}
		if v >= limit {
			return 2*limit - v - 2
		}
		return v
	}

	for y := 0; y < h; y++ {
		y0 := mirror(y-1, h)
		y2 := mirror(y+1, h)
		rowM := src.ConstRow(y0)
		row := src.ConstRow(y)
		rowP := src.ConstRow(y2)
		dst := out.Row(y)
		for x := 0; x < w; x++ {
			x0 := mirror(x-1, w)
			x2 := mirror(x+1, w)
			center := row[x]
			edges := row[x0] + row[x2] + rowM[x] + rowP[x]
			corners := rowM[x0] + rowM[x2] + rowP[x0] + rowP[x2]
			dst[x] = symmetric3W0*center + symmetric3W1*edges + symmetric3W2*corners
		}
	}
	return out
}

// IntensityAcEstimate computes the high-pass image of plane P: P minus
// its Symmetric3 blur (spec.md §4.1). Totally defined; no error
// conditions. Rows are independent, so the per-row body runs on pool
// (spec.md §5: "IntensityAcEstimate per row" is a suspension point); a
// nil pool runs serially.
func IntensityAcEstimate(p *image2d.ImageF, pool *workerpool.Pool) *image2d.ImageF {
	blurred := symmetric3(p)
	w, h := p.XSize(), p.YSize()
	out := image2d.NewImageF(w, h)
	workerpool.RunOn(pool, 0, h, func(y, _ int) {
		src := p.ConstRow(y)
		blur := blurred.ConstRow(y)
		dst := out.Row(y)
		for x := 0; x < w; x++ {
			dst[x] = src[x] - blur[x]
		}
	})
	return out
}
