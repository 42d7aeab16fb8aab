package quantfield

import (
	"errors"
	"testing"

	"github.com/opsinfield/quantfield/internal/image2d"
)

func TestNilOptionsLoggerAndAuxOutAreSafe(t *testing.T) {
	var opts *Options
	if opts.logger() != nil {
		t.Fatalf("nil *Options should report a nil logger")
	}
	aux := opts.auxOut()
	aux.DumpHeatmap("x", image2d.NewImageF(1, 1))
	aux.DumpXybImage("x", image2d.NewImage3F(1, 1))
}

func TestEmptyOptionsAuxOutFallsBackToNop(t *testing.T) {
	opts := &Options{}
	if _, ok := opts.auxOut().(NopAuxOut); !ok {
		t.Fatalf("Options with a nil AuxOut should fall back to NopAuxOut")
	}
}

func TestPreconditionErrorWrapsAndUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &PreconditionError{Op: "adjust", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("PreconditionError must unwrap to its inner error")
	}
	if err.Error() == "" {
		t.Fatalf("PreconditionError.Error() must not be empty")
	}
}

func TestPreconditionErrorWithoutInnerError(t *testing.T) {
	err := &PreconditionError{Op: "adjust"}
	if err.Unwrap() != nil {
		t.Fatalf("Unwrap() should be nil when no inner error was set")
	}
	if err.Error() == "" {
		t.Fatalf("PreconditionError.Error() must not be empty even without an inner error")
	}
}
