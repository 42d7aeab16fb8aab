// Package acstrategy models the per-block transform-selection grid the
// quantization field estimator reads but never decides: which transform
// (plain 8x8 DCT or a larger multi-block span) covers each 8x8 position.
// AdjustQuantField uses IsFirstBlock/CoveredBlocks{X,Y} to broadcast a
// single quant value across every position a larger transform spans.
package acstrategy

// Strategy enumerates the transform kinds a block can carry. Only
// DCT8x8 covers a single 8x8 position; the others span a rectangle of
// 8x8 positions rooted at their first (top-left) block.
type Strategy uint8

const (
	DCT8x8 Strategy = iota
	DCT8x16
	DCT16x8
	DCT16x16
	DCT32x32
)

// Extent returns the number of 8x8 positions a strategy covers in x/y.
func (s Strategy) Extent() (cx, cy int) {
	switch s {
	case DCT8x16:
		return 1, 2
	case DCT16x8:
		return 2, 1
	case DCT16x16:
		return 2, 2
	case DCT32x32:
		return 4, 4
	default:
		return 1, 1
	}
}

// Block is one cell of the strategy grid.
type Block struct {
	IsFirstBlock                  bool
	CoveredBlocksX, CoveredBlocksY int
	RawStrategy                   Strategy
}

// Image is a dense per-8x8-block grid of Strategy assignments, in block
// (not pixel) coordinates.
type Image struct {
	bw, bh int
	blocks []Block
}

// NewImage allocates a grid where every block is an independent,
// first-block DCT8x8 — the default, "no multi-block transform" layout.
func NewImage(bw, bh int) *Image {
	blocks := make([]Block, bw*bh)
	for i := range blocks {
		blocks[i] = Block{IsFirstBlock: true, CoveredBlocksX: 1, CoveredBlocksY: 1, RawStrategy: DCT8x8}
	}
	return &Image{bw: bw, bh: bh, blocks: blocks}
}

func (im *Image) BW() int { return im.bw }
func (im *Image) BH() int { return im.bh }

// ConstRow returns the row of blocks at block-row by.
func (im *Image) ConstRow(by int) []Block {
	off := by * im.bw
	return im.blocks[off : off+im.bw]
}

// Row returns a mutable view of the row of blocks at block-row by.
func (im *Image) Row(by int) []Block {
	return im.ConstRow(by)
}

// SetSpan marks the block at (bx, by) as the first block of a strategy
// spanning cx x cy 8x8 positions, and every other covered position as a
// non-first block of the same strategy. bx+cx and by+cy must not exceed
// the grid bounds.
func (im *Image) SetSpan(bx, by int, strategy Strategy) {
	cx, cy := strategy.Extent()
	for dy := 0; dy < cy; dy++ {
		for dx := 0; dx < cx; dx++ {
			idx := (by+dy)*im.bw + (bx + dx)
			im.blocks[idx] = Block{
				IsFirstBlock:   dx == 0 && dy == 0,
				CoveredBlocksX: cx,
				CoveredBlocksY: cy,
				RawStrategy:    strategy,
			}
		}
	}
}
