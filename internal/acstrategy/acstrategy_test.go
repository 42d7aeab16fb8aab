package acstrategy

import "testing"

func TestExtent(t *testing.T) {
	cases := []struct {
		s          Strategy
		cx, cy int
	}{
		{DCT8x8, 1, 1},
		{DCT8x16, 1, 2},
		{DCT16x8, 2, 1},
		{DCT16x16, 2, 2},
		{DCT32x32, 4, 4},
	}
	for _, c := range cases {
		cx, cy := c.s.Extent()
		if cx != c.cx || cy != c.cy {
			t.Errorf("Strategy(%d).Extent() = %d,%d; want %d,%d", c.s, cx, cy, c.cx, c.cy)
		}
	}
}

func TestNewImageDefaultsToIndependentDCT8x8(t *testing.T) {
	im := NewImage(4, 3)
	if im.BW() != 4 || im.BH() != 3 {
		t.Fatalf("got %dx%d, want 4x3", im.BW(), im.BH())
	}
	for by := 0; by < 3; by++ {
		for _, blk := range im.ConstRow(by) {
			if !blk.IsFirstBlock || blk.CoveredBlocksX != 1 || blk.CoveredBlocksY != 1 || blk.RawStrategy != DCT8x8 {
				t.Fatalf("default block should be an independent DCT8x8 first block, got %+v", blk)
			}
		}
	}
}

func TestSetSpanMarksOneFirstBlock(t *testing.T) {
	im := NewImage(4, 4)
	im.SetSpan(0, 0, DCT16x16)

	first := 0
	for dy := 0; dy < 2; dy++ {
		row := im.Row(dy)
		for dx := 0; dx < 2; dx++ {
			blk := row[dx]
			if blk.CoveredBlocksX != 2 || blk.CoveredBlocksY != 2 || blk.RawStrategy != DCT16x16 {
				t.Fatalf("covered block (%d,%d) has wrong span: %+v", dx, dy, blk)
			}
			if blk.IsFirstBlock {
				first++
				if dx != 0 || dy != 0 {
					t.Fatalf("first block must be the top-left corner, got (%d,%d)", dx, dy)
				}
			}
		}
	}
	if first != 1 {
		t.Fatalf("expected exactly one first block in the span, got %d", first)
	}

	// Outside the span, blocks are untouched.
	outside := im.Row(2)[2]
	if outside.RawStrategy != DCT8x8 || !outside.IsFirstBlock {
		t.Fatalf("block outside the span should remain untouched, got %+v", outside)
	}
}
