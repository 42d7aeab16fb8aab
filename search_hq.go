package quantfield

import (
	"math"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// kAdjSpeed is the per-outer-round step size AdjustQuantVal applies,
// spec.md §4.8.
var kAdjSpeed = [2]float64{0.1, 0.04}

// adjustQuantVal tightens *q towards quantMax by factor/(d+1), per
// spec.md §4.8. It reports false (no change) once q is within 0.1% of
// quantMax.
func adjustQuantVal(q *float64, d, factor, quantMax float64) bool {
	if *q >= 0.999*quantMax {
		return false
	}
	invMax := 1.0 / quantMax
	inv := 1.0/(*q) - factor/(d+1)
	if inv < invMax {
		inv = invMax
	}
	*q = 1.0 / inv
	return true
}

// FindBestQuantizationHQ is the peak-descent refinement loop used at
// the slowest (highest-quality) speed tier, spec.md §4.8. initialField
// must already have AdjustQuantField applied. It returns the best field
// found across both outer rounds together with the DC quant paired with
// it, and leaves that pair installed via q.SetQuantField as its last
// action.
func FindBestQuantizationHQ(
	opsin, referenceLinear *image2d.Image3F,
	initialField *image2d.ImageF,
	butteraugliTarget float64,
	maxItersHQ int,
	ac *acstrategy.Image,
	q quantizer.Quantizer,
	cmp butteraugli.Comparator,
	rt roundtrip.Func,
	pool *workerpool.Pool,
	opts *Options,
) (*image2d.ImageF, float64, error) {
	log := opts.logger()
	field := initialField.CopyOf()
	bw, bh := field.XSize(), field.YSize()

	quantCeil := 5.0
	quantDC := 1.2
	searchRadius := 0
	stall := 0
	bestScore := math.Inf(1)
	var bestField *image2d.ImageF
	bestQuantDC := quantDC

	cmp.SetReferenceImage(referenceLinear)
	raw := image2d.NewRawQuantField(bw, bh)
	state := &roundtrip.State{Field: field}

	outer := 0
	butteraugliIter := 0

outerLoop:
	for {
		if err := q.SetQuantField(quantDC, field, raw); err != nil {
			return nil, 0, err
		}
		decoded, err := rt(opsin, state, pool)
		if err != nil {
			return nil, 0, err
		}
		diffmap, score, err := cmp.CompareWith(decoded)
		if err != nil {
			return nil, 0, err
		}
		if cmp.GoodQualityScore() > cmp.BadQualityScore() {
			diffmap, score = negateDiffmap(diffmap), -score
		}
		butteraugliIter++
		if log != nil {
			log.Debug().Int("outer", outer).Int("iter", butteraugliIter).Float64("score", score).Msg("quantfield: hq search iteration")
		}

		if score <= bestScore {
			bestField = field.CopyOf()
			bestQuantDC = quantDC
			bestScore = math.Max(score, butteraugliTarget)
			stall = 0
		} else if outer == 0 {
			stall++
		}

		tileDist := TileDistMap(diffmap, 0, ac)

		if butteraugliIter >= maxItersHQ {
			break outerLoop
		}

		changed := false
	innerLoop:
		for !changed && score > butteraugliTarget {
			for radius := 0; radius <= searchRadius; radius++ {
				peaks := DistToPeakMap(tileDist, butteraugliTarget, radius, 0)
				for by := 0; by < bh; by++ {
					frow := field.Row(by)
					prow := peaks.ConstRow(by)
					trow := tileDist.ConstRow(by)
					for bx := 0; bx < bw; bx++ {
						if prow[bx] < 0 {
							continue
						}
						factor := kAdjSpeed[outer] * trow[bx]
						q0 := frow[bx]
						if adjustQuantVal(&q0, prow[bx], factor, quantCeil) {
							frow[bx] = q0
							changed = true
						}
					}
				}
			}

			if !changed || stall >= 3 {
				_, qmax := field.MinMax()
				switch {
				case searchRadius < 4 && (qmax < 0.99*quantCeil || quantCeil >= 3+float64(searchRadius)):
					searchRadius++
					continue innerLoop
				case quantDC < 0.4*quantCeil-0.8:
					quantDC += 0.2
					changed = true
					continue innerLoop
				case quantCeil < 8:
					quantCeil += 0.5
					continue innerLoop
				default:
					break innerLoop
				}
			}
		}

		if !changed {
			outer++
			if outer == 2 {
				break outerLoop
			}
			for by := 0; by < bh; by++ {
				row := field.Row(by)
				for bx := range row {
					row[bx] *= 0.75
				}
			}
			stall = 0
		}
	}

	if bestField == nil {
		bestField = field
		bestQuantDC = quantDC
	}
	if err := q.SetQuantField(bestQuantDC, bestField, raw); err != nil {
		return nil, 0, err
	}
	return bestField, bestQuantDC, nil
}
