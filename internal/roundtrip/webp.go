package roundtrip

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/webpcodec"
	"github.com/opsinfield/quantfield/internal/workerpool"
)

// opsinByteScale/opsinByteBias fix an affine map between this package's
// float64 opsin values and the 8-bit channels WebP.Encode/Decode carry.
// There is no claim these constants match the real opsin absorbance
// range (an external collaborator this spec scopes out); they only need
// to be invertible and keep typical values inside [0, 255].
const (
	opsinByteScale = 128.0
	opsinByteBias  = 128.0
)

func opsinByteOf(v float64) byte {
	b := v*opsinByteScale + opsinByteBias
	if b < 0 {
		b = 0
	} else if b > 255 {
		b = 255
	}
	return byte(math.Round(b))
}

func opsinValueOf(b byte) float64 {
	return (float64(b) - opsinByteBias) / opsinByteScale
}

func opsinToImage(opsin *image2d.Image3F) *image.NRGBA {
	w, h := opsin.XSize(), opsin.YSize()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		xRow := opsin.PlaneRow(0, y)
		yRow := opsin.PlaneRow(1, y)
		bRow := opsin.PlaneRow(2, y)
		off := y * img.Stride
		for x := 0; x < w; x++ {
			img.Pix[off+x*4+0] = opsinByteOf(xRow[x])
			img.Pix[off+x*4+1] = opsinByteOf(yRow[x])
			img.Pix[off+x*4+2] = opsinByteOf(bRow[x])
			img.Pix[off+x*4+3] = 255
		}
	}
	return img
}

func imageToOpsin(img image.Image) *image2d.Image3F {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image2d.NewImage3F(w, h)
	for y := 0; y < h; y++ {
		xRow := out.PlaneRow(0, y)
		yRow := out.PlaneRow(1, y)
		bRow := out.PlaneRow(2, y)
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			xRow[x] = opsinValueOf(byte(r >> 8))
			yRow[x] = opsinValueOf(byte(g >> 8))
			bRow[x] = opsinValueOf(byte(bl >> 8))
		}
	}
	return out
}

// qualityFromMeanField maps a quant field's mean magnitude to a WebP
// lossy quality: a larger quant field means coarser quantization was
// called for, so it maps to a lower encode quality and therefore more
// roundtrip distortion, the same direction Quantized's step size moves
// in.
func qualityFromMeanField(field *image2d.ImageF) float32 {
	sum, n := 0.0, 0
	for y := 0; y < field.YSize(); y++ {
		for _, v := range field.ConstRow(y) {
			sum += v
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	quality := 100.0 / (1.0 + mean)
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	return float32(quality)
}

// qRangeFromField derives an encoder quantizer clamp (qmin, qmax) from a
// quant field's spread rather than its mean alone: a field with little
// block-to-block variation (min close to max) should leave the VP8
// per-segment rate-distortion search free to pick any quantizer in the
// full 0-100 range, while a field with wide variation signals the
// estimator found some blocks that need much coarser quantization than
// others, which this narrows toward by tightening the clamp around
// qualityFromMeanField's quality (lower quality <-> higher quantizer
// index, so the mapping is inverted relative to the field's own scale).
func qRangeFromField(field *image2d.ImageF, quality float32) (qmin, qmax int) {
	lo, hi := field.MinMax()
	if hi <= 0 {
		return 0, 100
	}
	spread := (hi - lo) / hi // in [0, 1): 0 = uniform, ->1 = highly adaptive
	halfWidth := 50.0 * (1.0 - spread)

	q := float64(quality)
	qmin = int(math.Max(0, q-halfWidth))
	qmax = int(math.Min(100, q+halfWidth))
	if qmin > qmax {
		qmin = qmax
	}
	return qmin, qmax
}

// WebP round-trips opsin through the real VP8 lossy encoder and decoder
// at a quality derived from state's quant field, rather than simulating
// quantization with the toy per-block rounding Quantized uses. It treats
// the opsin planes as if they were RGB channels under a fixed affine
// byte mapping (opsinByteScale/opsinByteBias) — not a real color
// transform, but enough to drive the lossy pipeline's actual DCT,
// quantization and loop filter on real pixel data.
func WebP(opsin *image2d.Image3F, state any, _ *workerpool.Pool) (*image2d.Image3F, error) {
	st, ok := state.(*State)
	if !ok || st == nil || st.Field == nil {
		return nil, fmt.Errorf("roundtrip: WebP requires a *roundtrip.State with a non-nil Field")
	}

	src := opsinToImage(opsin)
	opts := webpcodec.DefaultOptions()
	opts.Quality = qualityFromMeanField(st.Field)
	opts.QMin, opts.QMax = qRangeFromField(st.Field, opts.Quality)

	var buf bytes.Buffer
	if err := webpcodec.Encode(&buf, src, opts); err != nil {
		return nil, fmt.Errorf("roundtrip: webp encode: %w", err)
	}
	decoded, err := webpcodec.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("roundtrip: webp decode: %w", err)
	}
	return imageToOpsin(decoded), nil
}
