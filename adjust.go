package quantfield

import (
	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/image2d"
)

// AdjustQuantField broadcasts each non-8x8 AC-strategy block's maximum
// quant-field value over every block it covers, per spec.md §4.5. It is
// idempotent: calling it twice equals calling it once, since every
// covered cell already holds the broadcast maximum after the first call.
func AdjustQuantField(field *image2d.ImageF, ac *acstrategy.Image) {
	bh := ac.BH()
	for by := 0; by < bh; by++ {
		blocks := ac.ConstRow(by)
		for bx, blk := range blocks {
			if !blk.IsFirstBlock {
				continue
			}
			cx, cy := blk.CoveredBlocksX, blk.CoveredBlocksY
			if cx <= 1 && cy <= 1 {
				continue
			}
			max := field.Get(bx, by)
			for dy := 0; dy < cy; dy++ {
				row := field.Row(by + dy)
				for dx := 0; dx < cx; dx++ {
					if row[bx+dx] > max {
						max = row[bx+dx]
					}
				}
			}
			for dy := 0; dy < cy; dy++ {
				row := field.Row(by + dy)
				for dx := 0; dx < cx; dx++ {
					row[bx+dx] = max
				}
			}
		}
	}
}
