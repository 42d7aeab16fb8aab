package quantfield

import (
	"fmt"
	"math"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// localoptRevertMul is the threshold a block's margin-2 tile distance
// must exceed, relative to the prior iteration, before a quant-field
// increase at that block is reverted (spec.md §4.7 step 5).
const localoptRevertMul = 1.015

// floorTowardInitialWeight is the weight given to the current field
// value (vs. the initial seed field) when flooring after the first
// iteration (spec.md §4.7 step 7): clamp = w*field + (1-w)*initial.
const floorTowardInitialWeight = 0.4

// FindBestQuantization is the default Butteraugli-guided refinement
// loop, spec.md §4.7. initialField must already have AdjustQuantField
// applied. It runs maxIters+1 roundtrip/compare rounds, updating the
// field after every round but the last, and returns the refined field;
// it also leaves quant installed via q.SetQuantField as its very last
// action.
func FindBestQuantization(
	opsin, referenceLinear *image2d.Image3F,
	initialField *image2d.ImageF,
	initialQuantDC, butteraugliTarget float64,
	maxIters int,
	ac *acstrategy.Image,
	q quantizer.Quantizer,
	cmp butteraugli.Comparator,
	rt roundtrip.Func,
	pool *workerpool.Pool,
	opts *Options,
) (*image2d.ImageF, error) {
	log := opts.logger()
	aux := opts.auxOut()
	if maxIters < 0 {
		return nil, &PreconditionError{Op: "FindBestQuantization", Err: fmt.Errorf("max_iters=%d must be >= 0", maxIters)}
	}

	field := initialField.CopyOf()
	initial := initialField.CopyOf()

	qfMin, qfMax := field.MinMax()
	ratio := qfMax / qfMin
	dev := math.Sqrt(250 / ratio)
	asym := math.Min(2, dev)
	qfLo := qfMin / (asym * dev)
	qfHi := qfMax * (dev / asym)
	if qfHi/qfLo >= 253 {
		return nil, &PreconditionError{Op: "FindBestQuantization", Err: fmt.Errorf("qf_hi/qf_lo = %g reaches the 253 ceiling", qfHi/qfLo)}
	}

	cmp.SetReferenceImage(referenceLinear)
	raw := image2d.NewRawQuantField(field.XSize(), field.YSize())
	state := &roundtrip.State{Field: field}

	bw, bh := field.XSize(), field.YSize()
	var lastField, lastLocalopt *image2d.ImageF

	for i := 0; i <= maxIters; i++ {
		if err := q.SetQuantField(initialQuantDC, field, raw); err != nil {
			return nil, err
		}
		decoded, err := rt(opsin, state, pool)
		if err != nil {
			return nil, err
		}
		diffmap, score, err := cmp.CompareWith(decoded)
		if err != nil {
			return nil, err
		}
		if cmp.GoodQualityScore() > cmp.BadQualityScore() {
			diffmap, score = negateDiffmap(diffmap), -score
		}
		if log != nil {
			log.Debug().Int("iter", i).Float64("score", score).Msg("quantfield: default search iteration")
		}
		aux.DumpHeatmap("diffmap", diffmap)

		tileDist := TileDistMap(diffmap, 0, ac)
		tileLocalopt := TileDistMap(diffmap, 2, ac)

		if i > 1 {
			for by := 0; by < bh; by++ {
				frow := field.Row(by)
				lrow := lastField.ConstRow(by)
				lorow := tileLocalopt.ConstRow(by)
				lolastrow := lastLocalopt.ConstRow(by)
				for bx := 0; bx < bw; bx++ {
					if frow[bx] > lrow[bx] && lorow[bx] > localoptRevertMul*lolastrow[bx] {
						frow[bx] = lrow[bx]
					}
				}
			}
		}

		lastField = field.CopyOf()
		lastLocalopt = tileLocalopt

		if i == maxIters {
			break
		}

		if i == 1 {
			for by := 0; by < bh; by++ {
				frow := field.Row(by)
				irow := initial.ConstRow(by)
				for bx := 0; bx < bw; bx++ {
					clamp := floorTowardInitialWeight*frow[bx] + (1-floorTowardInitialWeight)*irow[bx]
					if frow[bx] < clamp {
						frow[bx] = clamp
					}
					frow[bx] = clampField(frow[bx], qfLo, qfHi)
				}
			}
		}

		invScale := q.InvGlobalScale()
		scaleStep := q.Scale()
		for by := 0; by < bh; by++ {
			frow := field.Row(by)
			trow := tileDist.ConstRow(by)
			for bx := 0; bx < bw; bx++ {
				diff := trow[bx] / butteraugliTarget
				if diff > 1 {
					old := frow[bx]
					frow[bx] = old * diff
					if math.Round(old*invScale) == math.Round(frow[bx]*invScale) {
						frow[bx] = old + scaleStep
					}
				}
				frow[bx] = clampField(frow[bx], qfLo, qfHi)
			}
		}
	}

	if err := q.SetQuantField(initialQuantDC, field, raw); err != nil {
		return nil, err
	}
	return field, nil
}

// negateDiffmap returns a copy of diffmap with every value negated. Used
// to normalize a higher-is-better Comparator's output to the
// lower-is-better convention the search loops assume (spec.md §4.7 step
// 3, §9 "Butteraugli sign convention").
func negateDiffmap(diffmap *image2d.ImageF) *image2d.ImageF {
	neg := image2d.NewImageF(diffmap.XSize(), diffmap.YSize())
	for y := 0; y < diffmap.YSize(); y++ {
		src := diffmap.ConstRow(y)
		dst := neg.Row(y)
		for x, v := range src {
			dst[x] = -v
		}
	}
	return neg
}

func clampField(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
