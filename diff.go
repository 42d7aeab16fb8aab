package quantfield

import (
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// DiffPrecompute constants, spec.md §4.2.
const (
	diffCutoff           = 0.11883287948847132
	diffMul0             = 0.030220460298316064
	diffMatchGammaOffset = 0.6542639346391887
)

func mirrorIndex(v, limit int) int {
	if v < 0 {
		return -v
	}
	if v >= limit {
		return 2*limit - v - 2
	}
	return v
}

func ceilToMultipleOf8(v int) int {
	return (v + 7) &^ 7
}

// DiffPrecompute computes the padded-to-x8 per-pixel local-difference
// map on the opsin Y plane (plane index 1), per spec.md §4.2. Scanlines
// are independent, so the per-scanline body runs on pool (spec.md §5:
// "DiffPrecompute per scanline" is a suspension point); a nil pool runs
// serially.
func DiffPrecompute(opsin *image2d.Image3F, pool *workerpool.Pool) *image2d.ImageF {
	y := opsin.Plane(1)
	w, h := y.XSize(), y.YSize()
	paddedW := ceilToMultipleOf8(w)
	paddedH := ceilToMultipleOf8(h)

	out := image2d.NewImageF(paddedW, paddedH)

	workerpool.RunOn(pool, 0, h, func(py, _ int) {
		lastRow := py == h-1
		for px := 0; px < w; px++ {
			lastCol := px == w-1
			var d float64
			center := y.Get(px, py)

			switch {
			case lastRow && lastCol:
				// Last pixel overall: copy from the left neighbor.
				d = out.Get(px-1, py)
				out.Set(px, py, d)
				continue
			case lastCol:
				y2 := mirrorIndex(py+1, h)
				d = 7 * diffMul0 * absF(center-y.Get(px, y2))
			case lastRow:
				x2 := mirrorIndex(px+1, w)
				d = 7 * diffMul0 * absF(center-y.Get(x2, py))
			default:
				y1 := mirrorIndex(py-1, h)
				y2 := mirrorIndex(py+1, h)
				x1 := mirrorIndex(px-1, w)
				x2 := mirrorIndex(px+1, w)
				pX2 := y.Get(x2, py)
				pX1 := y.Get(x1, py)
				pY2 := y.Get(px, y2)
				pY1 := y.Get(px, y1)
				d = diffMul0 * (absF(center-pX2) + absF(center-pX1) + absF(center-pY2) + absF(center-pY1) +
					3*(absF(pY2-pY1)+absF(pX1-pX2)))
			}

			d *= ratioDCubeRootOverDSimpleGamma(center+diffMatchGammaOffset, false)
			if d > diffCutoff {
				d = diffCutoff
			}
			out.Set(px, py, d)
		}
	})

	padRightAndBottom(out, w, h)
	return out
}

// padRightAndBottom fills the padding region [w,paddedW)x[0,h) and then
// [0,paddedW)x[h,paddedH) with the mean of the last up-to-3 valid cells
// of the row/column being extended, per spec.md §4.2.
func padRightAndBottom(out *image2d.ImageF, w, h int) {
	paddedW := out.XSize()
	paddedH := out.YSize()

	if paddedW > w {
		for py := 0; py < h; py++ {
			row := out.Row(py)
			n := 3
			if w < n {
				n = w
			}
			sum := 0.0
			for i := w - n; i < w; i++ {
				sum += row[i]
			}
			mean := sum / float64(n)
			for px := w; px < paddedW; px++ {
				row[px] = mean
			}
		}
	}

	if paddedH > h {
		n := 3
		if h < n {
			n = h
		}
		for px := 0; px < paddedW; px++ {
			sum := 0.0
			for i := h - n; i < h; i++ {
				sum += out.Get(px, i)
			}
			mean := sum / float64(n)
			for py := h; py < paddedH; py++ {
				out.Set(px, py, mean)
			}
		}
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
