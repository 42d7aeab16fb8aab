package quantfield

import (
	"fmt"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// SpeedTier mirrors the encoder's effort/quality dial, spec.md §4.10.
// Values increase with encoding speed, so Tortoise (the slowest, highest
// quality regime) is the smallest value and Falcon (the fastest) the
// largest; FindBestQuantizer's ">" and "==" comparisons rely on that
// ordering.
type SpeedTier int

const (
	Tortoise SpeedTier = iota + 1
	Kitten
	Squirrel
	Wombat
	Hare
	Cheetah
	Falcon
)

// CompressParams collects the knobs FindBestQuantizer dispatches on,
// spec.md §4.10.
type CompressParams struct {
	SpeedTier SpeedTier

	// MaxErrorMode selects FindBestQuantizationMaxError regardless of
	// speed tier.
	MaxErrorMode bool

	// UniformQuant, if > 0, selects a scalar SetQuant(uniform*rescale,
	// uniform*rescale) instead of any field search.
	UniformQuant float64

	// Rescale is an encoder-side scale correction applied on top of
	// quant_ac (1.0 for no correction).
	Rescale float64

	MaxIters   int
	MaxItersHQ int
}

// FindBestQuantizer seeds the quant field via InitialQuantField and
// AdjustQuantField, then dispatches to the regime CompressParams and
// SpeedTier select, per spec.md §4.10. It returns the field the chosen
// regime converged to (a uniform field, for the scalar-quant paths) and
// leaves quant installed on q as each regime's last action.
func FindBestQuantizer(
	opsin, referenceLinear *image2d.Image3F,
	ac *acstrategy.Image,
	butteraugliTarget float64,
	cp CompressParams,
	q quantizer.Quantizer,
	cmp butteraugli.Comparator,
	rt roundtrip.Func,
	pool *workerpool.Pool,
	opts *Options,
) (*image2d.ImageF, error) {
	rescale := cp.Rescale
	if rescale == 0 {
		rescale = 1
	}

	if opsin.XSize()%8 != 0 || opsin.YSize()%8 != 0 {
		return nil, &PreconditionError{Op: "FindBestQuantizer", Err: fmt.Errorf("opsin image %dx%d is not padded to a multiple of 8", opsin.XSize(), opsin.YSize())}
	}

	initialQuantDC := InitialQuantDC(butteraugliTarget)
	initialField := InitialQuantField(opsin, butteraugliTarget, rescale, pool)

	bw, bh := initialField.XSize(), initialField.YSize()
	if ac.BW() != bw || ac.BH() != bh {
		return nil, &PreconditionError{Op: "FindBestQuantizer", Err: fmt.Errorf("ac strategy size %dx%d blocks does not match quant field size %dx%d blocks", ac.BW(), ac.BH(), bw, bh)}
	}

	AdjustQuantField(initialField, ac)
	opts.auxOut().DumpXybImage("seed", opsin)

	if log := opts.logger(); log != nil {
		log.Info().Str("speed_tier", fmt.Sprintf("%d", cp.SpeedTier)).
			Bool("max_error_mode", cp.MaxErrorMode).
			Float64("uniform_quant", cp.UniformQuant).
			Msg("quantfield: dispatching quantization regime")
	}

	switch {
	case cp.MaxErrorMode:
		return FindBestQuantizationMaxError(opsin, initialField, initialQuantDC, cp.MaxIters, ac, q, rt, pool, opts)

	case cp.SpeedTier == Falcon:
		raw := image2d.NewRawQuantField(bw, bh)
		ac0 := kAcQuant / butteraugliTarget
		if err := q.SetQuant(initialQuantDC, ac0, raw); err != nil {
			return nil, err
		}
		return image2d.FillImageF(bw, bh, ac0), nil

	case cp.UniformQuant > 0:
		raw := image2d.NewRawQuantField(bw, bh)
		v := cp.UniformQuant * rescale
		if err := q.SetQuant(v, v, raw); err != nil {
			return nil, err
		}
		return image2d.FillImageF(bw, bh, v), nil

	case cp.SpeedTier > Kitten:
		raw := image2d.NewRawQuantField(bw, bh)
		if err := q.SetQuantField(initialQuantDC, initialField, raw); err != nil {
			return nil, err
		}
		return initialField, nil

	case cp.SpeedTier == Tortoise:
		field, _, err := FindBestQuantizationHQ(opsin, referenceLinear, initialField, butteraugliTarget, cp.MaxItersHQ, ac, q, cmp, rt, pool, opts)
		return field, err

	default:
		return FindBestQuantization(opsin, referenceLinear, initialField, initialQuantDC, butteraugliTarget, cp.MaxIters, ac, q, cmp, rt, pool, opts)
	}
}
