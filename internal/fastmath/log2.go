// Package fastmath provides the FastLog2f_18bits consumed interface: a
// cheap float32 log2 approximation with an 18-bit mantissa, used where
// the estimator needs a fast logarithm and exact precision doesn't
// matter (the bit-reproducibility note in spec.md §7 explicitly allows
// reduction-order and approximation tolerance here).
package fastmath

import "github.com/chewxy/math32"

// mantissaBits is the number of mantissa bits kept in the piecewise
// linear log2 approximation (18, per the consumed-interface name).
const mantissaBits = 18

// Log2f18 approximates log2(v) using the classic bit-trick: treat the
// IEEE-754 exponent field as the integer part of the logarithm and the
// mantissa's upper mantissaBits as a linear correction term. Negative or
// zero input is clamped to the smallest representable positive value so
// the result is never NaN for v >= 0, matching the consumed-interface
// contract in spec.md §6.
func Log2f18(v float32) float32 {
	if v <= 0 {
		v = math32.SmallestNonzeroFloat32
	}
	bits := math32.Float32bits(v)

	exponent := int32((bits>>23)&0xff) - 127
	mantissaRaw := bits & 0x7fffff

	// Keep only the top mantissaBits of the 23-bit mantissa for the
	// linear correction, matching the "18-bit mantissa" contract.
	shift := uint(23 - mantissaBits)
	mantissaTrunc := (mantissaRaw >> shift) << shift

	frac := float32(mantissaTrunc) / float32(1<<23)
	return float32(exponent) + frac
}
