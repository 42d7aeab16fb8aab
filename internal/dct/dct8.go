// Package dct provides the TransposedScaledDCT<8> consumed interface: an
// in-place 8x8 forward "scaled" DCT. spec.md places the real transform
// kernel out of scope (an external collaborator); this package supplies
// one concrete implementation, built on gonum's DCT-II
// (gonum.org/v1/gonum/dsp/fourier), so DctModulation is runnable and
// testable without pulling in the full encoder's hand-tuned kernel.
package dct

import "gonum.org/v1/gonum/dsp/fourier"

// DCTScales8 are the per-frequency scale factors DctModulation applies
// after the raw transform (dct_rescale[i,j] = DCTScales8[i]*DCTScales8[j]
// in spec.md §4.4.2), matching the standard orthonormal-DCT-II
// normalization: 1/sqrt(8) for the DC term, 1/2 for the rest.
var DCTScales8 = [8]float64{
	0.3535533905932738, // 1/sqrt(8)
	0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5,
}

// Transform8x8 is the TransposedScaledDCT<8> contract: transform block
// (row-major, 64 entries) in place into its transposed, unscaled 8x8
// DCT-II coefficients. "Transposed" only changes which axis is outer in
// the flattened layout; callers (DctModulation) apply DCTScales8
// themselves per spec.md §4.4.2, so this function does not rescale.
type Transform8x8 func(block *[64]float64)

var dct8 = fourier.NewDCT(8)

// Reference8x8 is the default Transform8x8 implementation: a row DCT-II
// followed by a column DCT-II (the standard separable 2D DCT
// construction), with the result transposed in place.
func Reference8x8(block *[64]float64) {
	var tmp [64]float64
	var row [8]float64

	// Row pass.
	for y := 0; y < 8; y++ {
		copy(row[:], block[y*8:y*8+8])
		out := dct8.Transform(row[:], row[:])
		copy(tmp[y*8:y*8+8], out)
	}

	// Column pass on the row-transformed data, writing the transposed
	// result directly: block[x*8+y] holds column x's transform at row y.
	var col [8]float64
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			col[y] = tmp[y*8+x]
		}
		out := dct8.Transform(col[:], col[:])
		for y := 0; y < 8; y++ {
			block[x*8+y] = out[y]
		}
	}
}
