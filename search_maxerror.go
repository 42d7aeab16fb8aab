package quantfield

import (
	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// maxErrorTolerance is the per-opsin-plane error budget max_error
// normalizes against, spec.md §4.9. Like kQuant64, spec.md leaves the
// exact values to the implementation; indexed by plane (X, Y, B), they
// are ordered Y < X < B to reflect that the X (red-green) and B
// (blue-yellow) opsin channels tolerate more absolute error before
// becoming visible than Y (luminance) does.
var maxErrorTolerance = [3]float64{0.78, 0.42, 1.0}

// FindBestQuantizationMaxError bounds per-block absolute opsin-domain
// error directly rather than chasing a Butteraugli score, spec.md §4.9.
// initialField must already have AdjustQuantField applied. rt must
// round-trip in opsin space with no color transform (roundtrip.Quantized
// satisfies this). It returns the refined field and leaves quant
// installed via q.SetQuantField as its last action.
func FindBestQuantizationMaxError(
	opsin *image2d.Image3F,
	initialField *image2d.ImageF,
	initialQuantDC float64,
	maxIters int,
	ac *acstrategy.Image,
	q quantizer.Quantizer,
	rt roundtrip.Func,
	pool *workerpool.Pool,
	opts *Options,
) (*image2d.ImageF, error) {
	log := opts.logger()
	field := initialField.CopyOf()
	raw := image2d.NewRawQuantField(field.XSize(), field.YSize())
	state := &roundtrip.State{Field: field}

	for i := 0; i <= maxIters; i++ {
		if log != nil {
			log.Debug().Int("iter", i).Msg("quantfield: max-error search iteration")
		}
		if err := q.SetQuantField(initialQuantDC, field, raw); err != nil {
			return nil, err
		}
		decoded, err := rt(opsin, state, pool)
		if err != nil {
			return nil, err
		}

		bh := ac.BH()
		for ty := 0; ty < bh; ty++ {
			blocks := ac.ConstRow(ty)
			for tx, blk := range blocks {
				if !blk.IsFirstBlock {
					continue
				}
				cx, cy := blk.CoveredBlocksX, blk.CoveredBlocksY
				x0, y0 := tx*8, ty*8

				maxError := 0.0
				for c := 0; c < 3; c++ {
					src := opsin.Plane(c)
					dst := decoded.Plane(c)
					maxH := cy * 8
					if y0+maxH > src.YSize() {
						maxH = src.YSize() - y0
					}
					maxW := cx * 8
					if x0+maxW > src.XSize() {
						maxW = src.XSize() - x0
					}
					for dy := 0; dy < maxH; dy++ {
						srow := src.ConstRow(y0 + dy)
						drow := dst.ConstRow(y0 + dy)
						for dx := 0; dx < maxW; dx++ {
							e := absF(srow[x0+dx]-drow[x0+dx]) / maxErrorTolerance[c]
							if e > maxError {
								maxError = e
							}
						}
					}
				}

				var qfMul float64
				switch {
				case maxError < 0.5:
					qfMul = 2 * maxError
				case maxError <= 1.0:
					qfMul = 1
				default:
					qfMul = maxError
				}

				for dy := 0; dy < cy; dy++ {
					row := field.Row(ty + dy)
					for dx := 0; dx < cx; dx++ {
						row[tx+dx] *= qfMul
					}
				}
			}
		}
	}

	if err := q.SetQuantField(initialQuantDC, field, raw); err != nil {
		return nil, err
	}
	return field, nil
}
