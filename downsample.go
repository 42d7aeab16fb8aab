package quantfield

import (
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
)

// downsampleSigma and its derived kernel radius, spec.md §4.3.
const downsampleSigma = 8.2553856725566153

func downsampleKernelRadius() int {
	return int(math.Floor(2*downsampleSigma + 0.5))
}

// gaussianKernel1D returns a normalized (sum to 1) 1D Gaussian kernel of
// the given radius and sigma, spec.md §6's GaussianKernel(radius, sigma)
// consumed interface.
func gaussianKernel1D(radius int, sigma float64) []float64 {
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolveAxis1D applies a 1D kernel along one axis of src with mirror
// boundary conditions, returning a new image of the same size.
func convolveAxis1D(src *image2d.ImageF, kernel []float64, horizontal bool) *image2d.ImageF {
	w, h := src.XSize(), src.YSize()
	out := image2d.NewImageF(w, h)
	radius := (len(kernel) - 1) / 2

	if horizontal {
		for y := 0; y < h; y++ {
			row := src.ConstRow(y)
			dst := out.Row(y)
			for x := 0; x < w; x++ {
				sum := 0.0
				for k := -radius; k <= radius; k++ {
					xi := mirrorIndex(x+k, w)
					sum += kernel[k+radius] * row[xi]
				}
				dst[x] = sum
			}
		}
		return out
	}

	for y := 0; y < h; y++ {
		dst := out.Row(y)
		for x := 0; x < w; x++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				yi := mirrorIndex(y+k, h)
				sum += kernel[k+radius] * src.Get(x, yi)
			}
			dst[x] = sum
		}
	}
	return out
}

// convolveAndSample blurs src separably with kernel and samples every
// stride-th pixel on both axes, spec.md §6's ConvolveAndSample consumed
// interface. src's dimensions must be multiples of stride.
func convolveAndSample(src *image2d.ImageF, kernel []float64, stride int) *image2d.ImageF {
	blurredX := convolveAxis1D(src, kernel, true)
	blurred := convolveAxis1D(blurredX, kernel, false)

	bw, bh := src.XSize()/stride, src.YSize()/stride
	out := image2d.NewImageF(bw, bh)
	for by := 0; by < bh; by++ {
		dst := out.Row(by)
		for bx := 0; bx < bw; bx++ {
			dst[bx] = blurred.Get(bx*stride, by*stride)
		}
	}
	return out
}

// downsampleBy8 produces the seed quant field: a Gaussian-kernel
// convolve-and-sample of diff with stride 8, spec.md §4.3.
func downsampleBy8(diff *image2d.ImageF) *image2d.ImageF {
	radius := downsampleKernelRadius()
	kernel := gaussianKernel1D(radius, downsampleSigma)
	return convolveAndSample(diff, kernel, 8)
}
