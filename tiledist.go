package quantfield

import (
	"math"

	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/image2d"
)

// TileDistMap reduces a pixel-resolution diffmap to one scalar per
// AC-strategy block, broadcast across every 8x8 position a multi-block
// strategy covers, per spec.md §4.8.2. margin extends each block's
// sampling window by margin pixels on every side (clamped to the
// diffmap bounds); margin 0 yields the plain per-block distance, margin
// 2 the "localopt" variant FindBestQuantization reverts against.
//
// "Edge" pixels, which get down-weighted when margin != 0, are read as
// the pixels the margin pulled in from outside the block's own pixel
// span (not the edge of the clamped window) — spec.md does not say so
// explicitly, but that reading is the only one under which widening the
// margin changes the result at all.
func TileDistMap(diffmap *image2d.ImageF, margin int, ac *acstrategy.Image) *image2d.ImageF {
	bw, bh := ac.BW(), ac.BH()
	out := image2d.NewImageF(bw, bh)
	w, h := diffmap.XSize(), diffmap.YSize()

	for ty := 0; ty < bh; ty++ {
		blocks := ac.ConstRow(ty)
		for tx, blk := range blocks {
			if !blk.IsFirstBlock {
				continue
			}
			cx, cy := blk.CoveredBlocksX, blk.CoveredBlocksY
			blockX0, blockY0 := tx*8, ty*8
			blockX1, blockY1 := blockX0+cx*8, blockY0+cy*8

			x0, y0 := blockX0-margin, blockY0-margin
			x1, y1 := blockX1+margin, blockY1+margin
			if x0 < 0 {
				x0 = 0
			}
			if y0 < 0 {
				y0 = 0
			}
			if x1 > w {
				x1 = w
			}
			if y1 > h {
				y1 = h
			}

			distNorm, pixels := 0.0, 0.0
			for y := y0; y < y1; y++ {
				row := diffmap.ConstRow(y)
				yEdge := margin != 0 && (y < blockY0 || y >= blockY1)
				for x := x0; x < x1; x++ {
					xmul := 1.0
					if yEdge {
						xmul = 0.98
					}
					if margin != 0 && (x < blockX0 || x >= blockX1) {
						if xmul == 1.0 {
							xmul = 0.98
						} else {
							xmul = 0.7
						}
					}
					v := math.Pow(row[x], 16)
					distNorm += xmul * v
					pixels += xmul
				}
			}

			denom := pixels
			if denom < 1 {
				denom = 1
			}
			tile := 1.2 * math.Pow(distNorm/denom, 1.0/16.0)

			for dy := 0; dy < cy; dy++ {
				orow := out.Row(ty + dy)
				for dx := 0; dx < cx; dx++ {
					orow[tx+dx] = tile
				}
			}
		}
	}
	return out
}

// DistToPeakMap finds local maxima of field that clear peak_min by at
// least peak_weight of the local window's headroom, then stamps every
// cell within local_radius of a peak with its Chebyshev distance to the
// nearest one, per spec.md §4.8.1. Cells never reached by any peak's
// window keep the sentinel -1.
func DistToPeakMap(field *image2d.ImageF, peakMin float64, localRadius int, peakWeight float64) *image2d.ImageF {
	w, h := field.XSize(), field.YSize()
	out := image2d.NewImageF(w, h)
	out.Fill(-1)

	for y := 0; y < h; y++ {
		y0, y1 := y-localRadius, y+localRadius
		if y0 < 0 {
			y0 = 0
		}
		if y1 > h-1 {
			y1 = h - 1
		}
		for x := 0; x < w; x++ {
			x0, x1 := x-localRadius, x+localRadius
			if x0 < 0 {
				x0 = 0
			}
			if x1 > w-1 {
				x1 = w - 1
			}

			m := peakMin
			for yy := y0; yy <= y1; yy++ {
				row := field.ConstRow(yy)
				for xx := x0; xx <= x1; xx++ {
					if row[xx] > m {
						m = row[xx]
					}
				}
			}

			threshold := (1-peakWeight)*peakMin + peakWeight*m
			if field.Get(x, y) <= threshold {
				continue
			}

			for yy := y0; yy <= y1; yy++ {
				orow := out.Row(yy)
				for xx := x0; xx <= x1; xx++ {
					dx := xx - x
					if dx < 0 {
						dx = -dx
					}
					dy := yy - y
					if dy < 0 {
						dy = -dy
					}
					d := dx
					if dy > d {
						d = dy
					}
					if cur := orow[xx]; cur < 0 || float64(d) < cur {
						orow[xx] = float64(d)
					}
				}
			}
		}
	}
	return out
}
