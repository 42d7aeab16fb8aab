// Package quantizer defines the Quantizer consumed interface (spec.md
// §6) and a reference implementation. The real quantizer object that
// turns a quant field into bitstream-ready AC/DC steps is an external
// collaborator this spec scopes out; Simple exists so the estimator is
// independently testable and so SetQuantField/SetQuant have a concrete,
// observable effect.
package quantizer

import (
	"fmt"
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
)

// Quantizer is the consumed interface from spec.md §6.
type Quantizer interface {
	// SetQuant installs a uniform DC/AC quantizer (the Falcon/uniform
	// dispatch paths in spec.md §4.10), writing the resulting integer
	// representation into raw.
	SetQuant(dc, ac float64, raw *image2d.RawQuantField) error
	// SetQuantField installs a per-block AC quant field, writing the
	// resulting integer representation into raw.
	SetQuantField(dc float64, field *image2d.ImageF, raw *image2d.RawQuantField) error
	// InvGlobalScale returns the multiplier FindBestQuantization uses to
	// decide whether two field values round to the same raw quant step
	// (spec.md §4.7 step 8).
	InvGlobalScale() float64
	// Scale returns the field-value increment needed to move to the
	// next distinguishable raw quant step (the inverse of
	// InvGlobalScale), used to nudge a field value that rounded to a
	// no-op update (spec.md §4.7 step 8).
	Scale() float64
}

// defaultGlobalScale is the fixed-point granularity Simple quantizes
// field values to, chosen so a quant_field in the spec's typical
// operating range (roughly 0.1-20) maps to a usefully wide integer
// range, mirroring the fixed-point step/bias scheme the teacher's own
// SegmentQuant uses for VP8's 0-127 quantizer index
// (internal/lossy/encode_quant.go).
const defaultGlobalScale = 128.0

// Simple is a reference Quantizer: it stores nothing but the last
// dc/ac values and writes round(value * globalScale) into the raw
// field, with no entropy-coding or bitstream awareness.
type Simple struct {
	globalScale float64
	dc, ac      float64
}

// NewSimple returns a Simple quantizer at the default global scale.
func NewSimple() *Simple {
	return &Simple{globalScale: defaultGlobalScale}
}

func (s *Simple) InvGlobalScale() float64 { return s.globalScale }
func (s *Simple) Scale() float64          { return 1.0 / s.globalScale }

// DC returns the last DC quant value installed.
func (s *Simple) DC() float64 { return s.dc }

// AC returns the last uniform AC quant value installed by SetQuant (0 if
// only SetQuantField has ever been called).
func (s *Simple) AC() float64 { return s.ac }

func (s *Simple) SetQuant(dc, ac float64, raw *image2d.RawQuantField) error {
	if dc <= 0 || ac <= 0 {
		return fmt.Errorf("quantizer: dc=%g and ac=%g must both be positive", dc, ac)
	}
	s.dc, s.ac = dc, ac
	step := int32(math.Round(ac * s.globalScale))
	for y := 0; y < raw.YSize(); y++ {
		row := raw.Row(y)
		for x := range row {
			row[x] = step
		}
	}
	return nil
}

func (s *Simple) SetQuantField(dc float64, field *image2d.ImageF, raw *image2d.RawQuantField) error {
	if dc <= 0 {
		return fmt.Errorf("quantizer: dc=%g must be positive", dc)
	}
	if field.XSize() != raw.XSize() || field.YSize() != raw.YSize() {
		return fmt.Errorf("quantizer: field size %dx%d does not match raw field size %dx%d",
			field.XSize(), field.YSize(), raw.XSize(), raw.YSize())
	}
	s.dc = dc
	for y := 0; y < field.YSize(); y++ {
		frow := field.ConstRow(y)
		rrow := raw.Row(y)
		for x, v := range frow {
			rrow[x] = int32(math.Round(v * s.globalScale))
		}
	}
	return nil
}
