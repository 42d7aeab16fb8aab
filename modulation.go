package quantfield

import (
	"math"

	"github.com/opsinfield/quantfield/internal/dct"
	"github.com/opsinfield/quantfield/internal/fastmath"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/pool"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// ComputeMask constants, spec.md §4.4.1.
const (
	maskKBase    = 0.9
	maskKMul1    = 0.012830564950968305
	maskKOffset1 = 0.010638874536303307
	maskKMul2    = -0.17766197567565159
	maskKOffset2 = 0.10647602832848234
)

// computeMask overwrites val (the seed quant-field cell) per spec.md
// §4.4.1.
func computeMask(val float64) float64 {
	div := val + maskKOffset1
	if div < 1e-3 {
		div = 1e-3
	}
	return maskKBase + maskKMul1/div + maskKMul2/(val*val+maskKOffset2)
}

// DctModulation constants, spec.md §4.4.2.
const (
	dctKPow   = 4.6629037508279616
	dctMulQL2 = 0.03142149886912976
	dctMulQL4 = -0.66751878683954047
	dctMulQL8 = 0.38537889965210825
	dctKMul   = 1.2429764719119114
)

// dctModulation returns the additive DctModulation term for an 8x8 tile
// of intensity_ac_y at pixel origin (x0, y0), per spec.md §4.4.2.
func dctModulation(intensityACY *image2d.ImageF, x0, y0 int) float64 {
	blockP := pool.GetDCTScratch()
	defer pool.PutDCTScratch(blockP)
	block := *blockP
	for j := 0; j < 8; j++ {
		row := intensityACY.ConstRow(y0 + j)
		copy(block[j*8:j*8+8], row[x0:x0+8])
	}
	dct.Reference8x8(&block)

	qPow := [64]float64{}
	for k := 0; k < 64; k++ {
		qPow[k] = math.Pow(kQuant64[k], dctKPow)
	}

	sum2, sum4, sum8 := 0.0, 0.0, 0.0
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			k := i*8 + j
			rescale := dct.DCTScales8[i] * dct.DCTScales8[j]
			w := block[k] * rescale
			w = w * w
			q := qPow[k]
			sum2 += q * w
			sum4 += q * w * w
			sum8 += q * w * w * w * w
		}
	}

	e2 := math.Sqrt(sum2)
	e4 := math.Sqrt(math.Sqrt(sum4))
	e8 := math.Pow(sum8, 1.0/8.0)

	return dctKMul * (dctMulQL2*e2 + dctMulQL4*e4 + dctMulQL8*e8)
}

// RangeModulation constants, spec.md §4.4.3.
const (
	rangeXScale = 1.7221705747809317
	rangeMul0   = -0.74090628990083873
	rangeMul1   = 0.3768642185315102
	rangeMul2   = -0.36402038014085836
	rangeMul3   = 0.14396820717087175
	rangeMul4   = 119.38245772972709
)

// rangeModulation returns the additive RangeModulation term, clamped to
// [-7, 7], for an 8x8 tile at pixel origin (x0, y0) of intensity_ac_x
// and intensity_ac_y, per spec.md §4.4.3.
func rangeModulation(intensityACX, intensityACY *image2d.ImageF, x0, y0 int) float64 {
	minX, maxX := intensityACX.Get(x0, y0), intensityACX.Get(x0, y0)
	minY, maxY := intensityACY.Get(x0, y0), intensityACY.Get(x0, y0)
	sumY2 := 0.0
	for j := 0; j < 8; j++ {
		xRow := intensityACX.ConstRow(y0 + j)
		yRow := intensityACY.ConstRow(y0 + j)
		for i := 0; i < 8; i++ {
			vx := xRow[x0+i]
			vy := yRow[x0+i]
			if vx < minX {
				minX = vx
			}
			if vx > maxX {
				maxX = vx
			}
			if vy < minY {
				minY = vy
			}
			if vy > maxY {
				maxY = vy
			}
			sumY2 += vy * vy
		}
	}

	rx := rangeXScale * (maxX - minX)
	ry := maxY - minY

	hi := rx
	lo := ry
	if lo > hi {
		hi, lo = lo, hi
	}

	v := rangeMul0*math.Sqrt(rx*ry) +
		rangeMul1*math.Sqrt(rx*rx+ry*ry) +
		rangeMul2*hi +
		rangeMul3*lo +
		rangeMul4*rx*math.Sqrt(sumY2/64)

	if v > 7 {
		v = 7
	} else if v < -7 {
		v = -7
	}
	return v
}

// hfModulationKMul is the HfModulation scale factor, spec.md §4.4.4.
const hfModulationKMul = -1.9272205829012994

// hfModulation returns the additive HfModulation term for an 8x8 tile of
// intensity_ac_y at pixel origin (x0, y0), per spec.md §4.4.4.
func hfModulation(intensityACY *image2d.ImageF, x0, y0 int) float64 {
	sum := 0.0
	count := 0
	for j := 0; j < 8; j++ {
		row := intensityACY.ConstRow(y0 + j)
		for i := 0; i < 7; i++ {
			sum += absF(row[x0+i] - row[x0+i+1])
			count++
		}
	}
	for j := 0; j < 7; j++ {
		rowA := intensityACY.ConstRow(y0 + j)
		rowB := intensityACY.ConstRow(y0 + j + 1)
		for i := 0; i < 8; i++ {
			sum += absF(rowA[x0+i] - rowB[x0+i])
			count++
		}
	}
	mean := sum / float64(count)
	return hfModulationKMul * mean
}

// GammaModulation constants, spec.md §4.4.5. bias must be strictly
// greater than each opsin absorbance bias (required per spec.md §4.4.5).
const (
	gammaBias  = 0.16
	gammaScale = 0.34403164676083279
)

// gammaModulation returns the additive GammaModulation term for an 8x8
// tile at pixel origin (x0, y0) of intensity_ac_x and intensity_ac_y,
// per spec.md §4.4.5.
func gammaModulation(intensityACX, intensityACY *image2d.ImageF, x0, y0 int) float64 {
	sum := 0.0
	for j := 0; j < 8; j++ {
		xRow := intensityACX.ConstRow(y0 + j)
		yRow := intensityACY.ConstRow(y0 + j)
		for i := 0; i < 8; i++ {
			x := xRow[x0+i]
			y := yRow[x0+i]
			g := y + gammaBias + x
			r := y + gammaBias - x
			avgRatio := 0.5 * (ratioDCubeRootOverDSimpleGamma(r, true) + ratioDCubeRootOverDSimpleGamma(g, true))
			sum += avgRatio
		}
	}
	// log(x) = log2(x) * ln(2); FastLog2f_18bits is the consumed
	// interface (spec.md §6) for the log2 half of that identity.
	log2 := float64(fastmath.Log2f18(float32(sum / 64)))
	return gammaScale * log2 * kLog2
}

// PerBlockModulations applies the five additive log-domain modulations
// to every 8x8 block of field (already seeded by downsampleBy8), then
// exponentiates and scales, per spec.md §4.4. field, intensityACX,
// intensityACY must all have the same block/pixel dimensions
// (field.XSize()*8 == intensityACX.XSize(), etc.). Block rows are
// independent, so the per-block-row body runs on pool (spec.md §5:
// "PerBlockModulations per block-row" is a suspension point); a nil
// pool runs serially.
func PerBlockModulations(field *image2d.ImageF, intensityACX, intensityACY *image2d.ImageF, scale float64, pool *workerpool.Pool) {
	bw, bh := field.XSize(), field.YSize()
	workerpool.RunOn(pool, 0, bh, func(by, _ int) {
		row := field.Row(by)
		y0 := by * 8
		for bx := 0; bx < bw; bx++ {
			x0 := bx * 8

			v := computeMask(row[bx])
			v += dctModulation(intensityACY, x0, y0)
			v += rangeModulation(intensityACX, intensityACY, x0, y0)
			v += hfModulation(intensityACY, x0, y0)
			v += gammaModulation(intensityACX, intensityACY, x0, y0)

			row[bx] = math.Exp(v) * scale
		}
	})
}
