// Package quantfield computes a per-8x8-block floating-point
// quantization field from an opsin-color-space image: five additive
// log-domain psychovisual modulations (mask, DCT, range, high-frequency,
// gamma) seed the field, and an outer Butteraugli-guided rate-distortion
// search loop (FindBestQuantization, FindBestQuantizationHQ,
// FindBestQuantizationMaxError, dispatched by FindBestQuantizer)
// refines it against a target perceptual distance.
//
// The quantizer, perceptual comparator, roundtrip encoder/decoder, DCT
// kernel, and thread pool this package drives are all consumed
// interfaces (internal/quantizer, internal/butteraugli,
// internal/roundtrip, internal/dct, internal/workerpool); each ships a
// reference implementation so the estimator runs and tests end to end
// without a full image codec wired in.
package quantfield
