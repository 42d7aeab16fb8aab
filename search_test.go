package quantfield

import (
	"testing"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
)

func smallOpsin() *image2d.Image3F {
	im := image2d.NewImage3F(16, 16)
	for y := 0; y < 16; y++ {
		xr := im.PlaneRow(0, y)
		yr := im.PlaneRow(1, y)
		br := im.PlaneRow(2, y)
		for x := 0; x < 16; x++ {
			xr[x] = float64((x+y)%5) * 0.02
			yr[x] = float64((x*y)%7) * 0.03
			br[x] = float64((x-y)%3) * 0.01
		}
	}
	return im
}

func seedField() *image2d.ImageF {
	field := image2d.NewImageF(2, 2)
	field.Set(0, 0, 1.0)
	field.Set(1, 0, 1.5)
	field.Set(0, 1, 2.0)
	field.Set(1, 1, 1.2)
	return field
}

func TestFindBestQuantizationRejectsNegativeMaxIters(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()
	_, err := FindBestQuantization(opsin, opsin, seedField(), 1.0, 1.0, -1, ac, q, cmp, roundtrip.Quantized, nil, nil)
	if err == nil {
		t.Fatalf("negative max_iters must be rejected")
	}
}

func TestFindBestQuantizationConverges(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	field, err := FindBestQuantization(opsin, opsin, seedField(), 1.0, 1.0, 3, ac, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantization: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d field, want 2x2", field.XSize(), field.YSize())
	}
	min, max := field.MinMax()
	if min <= 0 || max <= 0 {
		t.Fatalf("refined field must stay strictly positive, got min=%v max=%v", min, max)
	}
}

// TestFindBestQuantizationNormalizesHigherIsBetterComparator checks that
// FindBestQuantization driven by a higher-is-better Comparator
// (butteraugli.Inverted wrapping SSEComparator) completes and returns a
// strictly positive field.
func TestFindBestQuantizationNormalizesHigherIsBetterComparator(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.Inverted{Comparator: butteraugli.NewSSEComparator()}

	field, err := FindBestQuantization(opsin, opsin, seedField(), 1.0, 1.0, 3, ac, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantization with inverted comparator: %v", err)
	}
	min, max := field.MinMax()
	if min <= 0 || max <= 0 {
		t.Fatalf("refined field must stay strictly positive, got min=%v max=%v", min, max)
	}
}

func TestFindBestQuantizationHQNormalizesHigherIsBetterComparator(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.Inverted{Comparator: butteraugli.NewSSEComparator()}

	field, dc, err := FindBestQuantizationHQ(opsin, opsin, seedField(), 1.0, 6, ac, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizationHQ with inverted comparator: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d field, want 2x2", field.XSize(), field.YSize())
	}
	if dc <= 0 {
		t.Fatalf("dc = %v, want > 0", dc)
	}
}

func TestFindBestQuantizationWithOptionsLogsWithoutPanicking(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()
	opts := &Options{}
	if _, err := FindBestQuantization(opsin, opsin, seedField(), 1.0, 1.0, 1, ac, q, cmp, roundtrip.Quantized, nil, opts); err != nil {
		t.Fatalf("FindBestQuantization with empty Options: %v", err)
	}
}

func TestFindBestQuantizationHQReturnsFieldAndDC(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	field, dc, err := FindBestQuantizationHQ(opsin, opsin, seedField(), 1.0, 6, ac, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizationHQ: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d field, want 2x2", field.XSize(), field.YSize())
	}
	if dc <= 0 {
		t.Fatalf("dc = %v, want > 0", dc)
	}
}

func TestFindBestQuantizationMaxErrorConverges(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()

	field, err := FindBestQuantizationMaxError(opsin, seedField(), 1.0, 2, ac, q, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizationMaxError: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d field, want 2x2", field.XSize(), field.YSize())
	}
}

func TestAdjustQuantValStopsNearCeiling(t *testing.T) {
	q := 4.996
	changed := adjustQuantVal(&q, 0, 0.1, 5.0)
	if changed {
		t.Fatalf("adjustQuantVal should report no change within 0.1%% of quantMax")
	}
}

func TestAdjustQuantValMovesTowardCeiling(t *testing.T) {
	q := 1.0
	changed := adjustQuantVal(&q, 0, 0.1, 5.0)
	if !changed {
		t.Fatalf("adjustQuantVal should report a change when far from quantMax")
	}
	if q <= 1.0 || q > 5.0 {
		t.Fatalf("adjustQuantVal should move q toward quantMax without overshooting, got %v", q)
	}
}
