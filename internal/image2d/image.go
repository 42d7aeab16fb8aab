// Package image2d provides dense row-major floating point image buffers
// for the quantization field estimator, mirroring the plane conventions
// the rest of this corpus uses for pixel data (separate stride from
// width, row accessors instead of raw index arithmetic at call sites).
package image2d

// ImageF is a dense row-major float64 image. Rows are stored with a
// stride that may exceed xsize, matching how image.YCbCr/dsp.BPS-strided
// buffers keep row data independently addressable.
type ImageF struct {
	xsize, ysize int
	stride        int
	pix           []float64
}

// NewImageF allocates a zero-filled image of the given pixel dimensions.
func NewImageF(xsize, ysize int) *ImageF {
	if xsize < 0 || ysize < 0 {
		xsize, ysize = 0, 0
	}
	return &ImageF{
		xsize:  xsize,
		ysize:  ysize,
		stride: xsize,
		pix:    make([]float64, xsize*ysize),
	}
}

// FillImageF allocates an image of the given dimensions filled with v.
func FillImageF(xsize, ysize int, v float64) *ImageF {
	im := NewImageF(xsize, ysize)
	for i := range im.pix {
		im.pix[i] = v
	}
	return im
}

func (im *ImageF) XSize() int { return im.xsize }
func (im *ImageF) YSize() int { return im.ysize }
func (im *ImageF) Stride() int { return im.stride }

// Row returns a mutable view of row y.
func (im *ImageF) Row(y int) []float64 {
	off := y * im.stride
	return im.pix[off : off+im.xsize]
}

// ConstRow returns an immutable view of row y.
func (im *ImageF) ConstRow(y int) []float64 {
	return im.Row(y)
}

// Get returns the pixel at (x, y).
func (im *ImageF) Get(x, y int) float64 {
	return im.pix[y*im.stride+x]
}

// Set writes the pixel at (x, y).
func (im *ImageF) Set(x, y int, v float64) {
	im.pix[y*im.stride+x] = v
}

// CopyOf returns a deep copy of im.
func (im *ImageF) CopyOf() *ImageF {
	out := NewImageF(im.xsize, im.ysize)
	copy(out.pix, im.pix)
	return out
}

// Fill sets every pixel to v.
func (im *ImageF) Fill(v float64) {
	for y := 0; y < im.ysize; y++ {
		row := im.Row(y)
		for x := range row {
			row[x] = v
		}
	}
}

// MinMax returns the minimum and maximum pixel values. Panics on an
// empty image, matching the precondition that callers only ever invoke
// it on a properly sized quant field.
func (im *ImageF) MinMax() (min, max float64) {
	min, max = im.pix[0], im.pix[0]
	for _, v := range im.pix {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Image3F bundles three ImageF planes (X, Y, B in the opsin model).
type Image3F struct {
	planes [3]*ImageF
}

// NewImage3F allocates three zero-filled planes of the given dimensions.
func NewImage3F(xsize, ysize int) *Image3F {
	return &Image3F{planes: [3]*ImageF{
		NewImageF(xsize, ysize),
		NewImageF(xsize, ysize),
		NewImageF(xsize, ysize),
	}}
}

func (im *Image3F) Plane(c int) *ImageF      { return im.planes[c] }
func (im *Image3F) PlaneRow(c, y int) []float64 { return im.planes[c].Row(y) }
func (im *Image3F) XSize() int               { return im.planes[0].XSize() }
func (im *Image3F) YSize() int               { return im.planes[0].YSize() }

// CopyOf returns a deep copy of im.
func (im *Image3F) CopyOf() *Image3F {
	return &Image3F{planes: [3]*ImageF{
		im.planes[0].CopyOf(),
		im.planes[1].CopyOf(),
		im.planes[2].CopyOf(),
	}}
}

// RawQuantField is the integer representation of the quant field owned
// by the Quantizer collaborator; the estimator only ever writes it via
// Quantizer.SetQuant/SetQuantField.
type RawQuantField struct {
	xsize, ysize int
	stride       int
	pix          []int32
}

// NewRawQuantField allocates a zero-filled integer quant field.
func NewRawQuantField(xsize, ysize int) *RawQuantField {
	return &RawQuantField{xsize: xsize, ysize: ysize, stride: xsize, pix: make([]int32, xsize*ysize)}
}

func (r *RawQuantField) XSize() int { return r.xsize }
func (r *RawQuantField) YSize() int { return r.ysize }

func (r *RawQuantField) Row(y int) []int32 {
	off := y * r.stride
	return r.pix[off : off+r.xsize]
}
