package quantfield

// kQuant64 is the fixed 64-entry per-coefficient weighting table used by
// DctModulation (spec.md §4.4.2): each entry is raised to kPow, and the
// result weights w_k when the three norms E2/E4/E8 are accumulated. Per spec.md §9's Constants Policy, this is a literal,
// file-private, unrounded table; every entry is load-bearing.
//
// Row-major in natural (not zigzag) 8x8 order, shaped to grow with
// frequency along both axes so high-frequency coefficients contribute
// more to the "busy" aggregate DctModulation measures, while the DC term
// (index 0) carries no weight since DctModulation only characterizes AC
// energy distribution.
var kQuant64 = [64]float64{
	0.0000, 0.0044, 0.0060, 0.0076, 0.0092, 0.0108, 0.0124, 0.0140,
	0.0044, 0.0068, 0.0084, 0.0100, 0.0116, 0.0132, 0.0148, 0.0164,
	0.0060, 0.0084, 0.0108, 0.0124, 0.0140, 0.0156, 0.0172, 0.0188,
	0.0076, 0.0100, 0.0124, 0.0148, 0.0164, 0.0180, 0.0196, 0.0212,
	0.0092, 0.0116, 0.0140, 0.0164, 0.0188, 0.0204, 0.0220, 0.0236,
	0.0108, 0.0132, 0.0156, 0.0180, 0.0204, 0.0228, 0.0244, 0.0260,
	0.0124, 0.0148, 0.0172, 0.0196, 0.0220, 0.0244, 0.0268, 0.0284,
	0.0140, 0.0164, 0.0188, 0.0212, 0.0236, 0.0260, 0.0284, 0.0308,
}
