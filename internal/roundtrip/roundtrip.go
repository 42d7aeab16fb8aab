// Package roundtrip defines the Roundtrip consumed interface (spec.md
// §6) and reference implementations. The real roundtrip function
// drives the full encode/decode pipeline through whatever quantizer
// state was last installed; this spec treats it as an external
// collaborator and only needs a stand-in that reacts to a quant field
// in an observable way.
package roundtrip

import (
	"fmt"
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// Func is the consumed interface from spec.md §6: given the source
// opsin image and opaque encoder state, produce the image that would
// result from encoding then decoding at that state. state is opaque to
// this package's callers; Identity ignores it, Quantized and WebP expect
// a *State.
type Func func(opsin *image2d.Image3F, state any, pool *workerpool.Pool) (*image2d.Image3F, error)

// Identity returns a copy of opsin unchanged, as if encoding and
// decoding were lossless. Useful for exercising the search loops
// without any quantization-dependent distortion.
func Identity(opsin *image2d.Image3F, _ any, _ *workerpool.Pool) (*image2d.Image3F, error) {
	return opsin.CopyOf(), nil
}

// State carries the per-block quant field a Quantized roundtrip
// quantizes against. The search loops point Field at the quant field
// they refine in place, so each call sees the current values.
type State struct {
	Field *image2d.ImageF
}

// stepScale maps a quant field value of 1.0 to a reference rounding
// step; larger field values proportionally widen the step and so widen
// the distortion Quantized introduces.
const stepScale = 0.02

// Quantized simulates lossy coding by rounding each pixel of every 8x8
// block, across all three opsin planes, to the nearest multiple of a
// step proportional to that block's quant field value. It is not a
// real transform-domain quantizer (spec.md leaves that choice to the
// Quantizer collaborator); it exists so FindBestQuantization's
// "increase quant_field, re-roundtrip, re-compare" loop has a
// deterministic, monotonic-in-field-magnitude distortion to converge
// against.
func Quantized(opsin *image2d.Image3F, state any, _ *workerpool.Pool) (*image2d.Image3F, error) {
	st, ok := state.(*State)
	if !ok || st == nil || st.Field == nil {
		return nil, fmt.Errorf("roundtrip: Quantized requires a *roundtrip.State with a non-nil Field")
	}

	out := opsin.CopyOf()
	bw, bh := st.Field.XSize(), st.Field.YSize()

	for by := 0; by < bh; by++ {
		frow := st.Field.ConstRow(by)
		y0 := by * 8
		for bx := 0; bx < bw; bx++ {
			step := frow[bx] * stepScale
			if step <= 0 {
				continue
			}
			x0 := bx * 8
			for p := 0; p < 3; p++ {
				plane := out.Plane(p)
				maxJ := 8
				if y0+maxJ > plane.YSize() {
					maxJ = plane.YSize() - y0
				}
				maxI := 8
				if x0+maxI > plane.XSize() {
					maxI = plane.XSize() - x0
				}
				for j := 0; j < maxJ; j++ {
					row := plane.Row(y0 + j)
					for i := 0; i < maxI; i++ {
						row[x0+i] = math.Round(row[x0+i]/step) * step
					}
				}
			}
		}
	}
	return out, nil
}
