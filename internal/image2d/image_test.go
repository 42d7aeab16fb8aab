package image2d

import "testing"

func TestNewImageFZeroFilled(t *testing.T) {
	im := NewImageF(4, 3)
	if im.XSize() != 4 || im.YSize() != 3 {
		t.Fatalf("got %dx%d, want 4x3", im.XSize(), im.YSize())
	}
	for y := 0; y < 3; y++ {
		for _, v := range im.ConstRow(y) {
			if v != 0 {
				t.Fatalf("expected zero-filled image, got %v at row %d", v, y)
			}
		}
	}
}

func TestNewImageFNegativeDimensions(t *testing.T) {
	im := NewImageF(-1, 5)
	if im.XSize() != 0 || im.YSize() != 0 {
		t.Fatalf("negative dimension should clamp to empty image, got %dx%d", im.XSize(), im.YSize())
	}
}

func TestFillImageF(t *testing.T) {
	im := FillImageF(3, 2, 1.5)
	for y := 0; y < 2; y++ {
		for _, v := range im.ConstRow(y) {
			if v != 1.5 {
				t.Fatalf("got %v, want 1.5", v)
			}
		}
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	im := NewImageF(5, 5)
	im.Set(2, 3, 9.25)
	if got := im.Get(2, 3); got != 9.25 {
		t.Fatalf("got %v, want 9.25", got)
	}
	if im.Row(3)[2] != 9.25 {
		t.Fatalf("Row view did not reflect Set")
	}
}

func TestCopyOfIsIndependent(t *testing.T) {
	im := FillImageF(2, 2, 1)
	cp := im.CopyOf()
	cp.Set(0, 0, 99)
	if im.Get(0, 0) == 99 {
		t.Fatalf("CopyOf must not alias the source buffer")
	}
}

func TestFill(t *testing.T) {
	im := NewImageF(3, 3)
	im.Fill(4)
	for y := 0; y < 3; y++ {
		for _, v := range im.ConstRow(y) {
			if v != 4 {
				t.Fatalf("got %v, want 4", v)
			}
		}
	}
}

func TestMinMax(t *testing.T) {
	im := NewImageF(3, 1)
	im.Set(0, 0, -2)
	im.Set(1, 0, 5)
	im.Set(2, 0, 1)
	min, max := im.MinMax()
	if min != -2 || max != 5 {
		t.Fatalf("got min=%v max=%v, want -2/5", min, max)
	}
}

func TestImage3FPlanesAreIndependent(t *testing.T) {
	im := NewImage3F(2, 2)
	im.Plane(0).Set(0, 0, 1)
	im.Plane(1).Set(0, 0, 2)
	im.Plane(2).Set(0, 0, 3)
	if im.Plane(0).Get(0, 0) != 1 || im.Plane(1).Get(0, 0) != 2 || im.Plane(2).Get(0, 0) != 3 {
		t.Fatalf("planes must not alias each other")
	}
	if im.XSize() != 2 || im.YSize() != 2 {
		t.Fatalf("got %dx%d, want 2x2", im.XSize(), im.YSize())
	}
}

func TestImage3FCopyOf(t *testing.T) {
	im := NewImage3F(2, 2)
	im.PlaneRow(1, 0)[0] = 7
	cp := im.CopyOf()
	cp.PlaneRow(1, 0)[0] = 99
	if im.PlaneRow(1, 0)[0] == 99 {
		t.Fatalf("Image3F.CopyOf must deep-copy every plane")
	}
}

func TestRawQuantField(t *testing.T) {
	r := NewRawQuantField(3, 2)
	if r.XSize() != 3 || r.YSize() != 2 {
		t.Fatalf("got %dx%d, want 3x2", r.XSize(), r.YSize())
	}
	r.Row(1)[2] = 42
	if r.Row(1)[2] != 42 {
		t.Fatalf("Row view did not persist write")
	}
}
