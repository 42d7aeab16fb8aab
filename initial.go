package quantfield

import (
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// InitialQuantDC/InitialQuantField constants, spec.md §4.6.
const (
	kDcMul      = 2.9
	kDcQuantPow = 0.55
	kDcQuant    = 1.18
	kAcQuant    = 0.84
)

// InitialQuantDC computes the scalar DC quant for the given Butteraugli
// target distance, per spec.md §4.6. It is monotonically non-increasing
// in target and never exceeds 50 (spec.md §8 property 6).
func InitialQuantDC(butteraugliTarget float64) float64 {
	tDC := kDcMul * math.Pow(butteraugliTarget/kDcMul, kDcQuantPow)
	if butteraugliTarget < tDC {
		tDC = butteraugliTarget
	}
	dc := kDcQuant / tDC
	if dc > 50.0 {
		dc = 50.0
	}
	return dc
}

// AdaptiveQuantizationMap runs the full seed-field pipeline (spec.md
// §4.1–§4.4): per-plane IntensityAcEstimate, DiffPrecompute,
// downsample-by-8, then PerBlockModulations at the given scale. pool may
// be nil to run everything serially.
func AdaptiveQuantizationMap(opsin *image2d.Image3F, scale float64, pool *workerpool.Pool) *image2d.ImageF {
	intensityACX := IntensityAcEstimate(opsin.Plane(0), pool)
	intensityACY := IntensityAcEstimate(opsin.Plane(1), pool)

	diff := DiffPrecompute(opsin, pool)
	field := downsampleBy8(diff)

	PerBlockModulations(field, intensityACX, intensityACY, scale, pool)
	return field
}

// InitialQuantField computes the scalar AC quant multiplier and the
// seeded/modulated AC quant field for the given target distance, per
// spec.md §4.6. rescale is an encoder-side scale correction (1.0 for no
// correction) applied on top of quant_ac.
func InitialQuantField(opsin *image2d.Image3F, butteraugliTarget, rescale float64, pool *workerpool.Pool) *image2d.ImageF {
	quantAC := kAcQuant / butteraugliTarget
	return AdaptiveQuantizationMap(opsin, quantAC*rescale, pool)
}
