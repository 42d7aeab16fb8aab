package quantfield

import (
	"errors"
	"testing"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
)

func TestSpeedTierOrderingMatchesSlowToFast(t *testing.T) {
	if !(Tortoise < Kitten && Kitten < Squirrel && Squirrel < Wombat && Wombat < Hare && Hare < Cheetah && Cheetah < Falcon) {
		t.Fatalf("SpeedTier values must increase from slowest (Tortoise) to fastest (Falcon)")
	}
}

func TestFindBestQuantizerRejectsUnpaddedOpsin(t *testing.T) {
	opsin := image2d.NewImage3F(10, 16) // 10 is not a multiple of 8
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Squirrel}
	_, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	var precondErr *PreconditionError
	if !errors.As(err, &precondErr) {
		t.Fatalf("FindBestQuantizer with unpadded opsin: err = %v, want *PreconditionError", err)
	}
}

func TestFindBestQuantizerRejectsMismatchedACSize(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(3, 3) // smallOpsin is 16x16 -> 2x2 blocks
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Squirrel}
	_, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	var precondErr *PreconditionError
	if !errors.As(err, &precondErr) {
		t.Fatalf("FindBestQuantizer with mismatched ac size: err = %v, want *PreconditionError", err)
	}
}

func TestFindBestQuantizerUniformQuantBypassesSearch(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Squirrel, UniformQuant: 2.0, Rescale: 1.0}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	for y := 0; y < field.YSize(); y++ {
		for _, v := range field.ConstRow(y) {
			if v != 2.0 {
				t.Fatalf("uniform_quant dispatch should fill a constant field, got %v", v)
			}
		}
	}
}

func TestFindBestQuantizerFalconUsesScalarQuant(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Falcon}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	want := kAcQuant / 1.0
	min, max := field.MinMax()
	if min != want || max != want {
		t.Fatalf("Falcon dispatch should fill a constant field at kAcQuant/target, got min=%v max=%v want=%v", min, max, want)
	}
}

func TestFindBestQuantizerFastTierSkipsSearch(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Hare}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d, want 2x2", field.XSize(), field.YSize())
	}
}

func TestFindBestQuantizerDefaultRegime(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Squirrel, MaxIters: 2}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	min, max := field.MinMax()
	if min <= 0 || max <= 0 {
		t.Fatalf("default regime should produce a strictly positive field, got min=%v max=%v", min, max)
	}
}

func TestFindBestQuantizerMaxErrorMode(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Squirrel, MaxErrorMode: true, MaxIters: 1}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d, want 2x2", field.XSize(), field.YSize())
	}
}

func TestFindBestQuantizerTortoiseUsesHQ(t *testing.T) {
	opsin := smallOpsin()
	ac := acstrategy.NewImage(2, 2)
	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()

	cp := CompressParams{SpeedTier: Tortoise, MaxItersHQ: 4}
	field, err := FindBestQuantizer(opsin, opsin, ac, 1.0, cp, q, cmp, roundtrip.Quantized, nil, nil)
	if err != nil {
		t.Fatalf("FindBestQuantizer: %v", err)
	}
	if field.XSize() != 2 || field.YSize() != 2 {
		t.Fatalf("got %dx%d, want 2x2", field.XSize(), field.YSize())
	}
}
