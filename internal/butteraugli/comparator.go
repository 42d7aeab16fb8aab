// Package butteraugli defines the Comparator consumed interface
// (spec.md §6) and a reference implementation. The real perceptual
// metric this spec is guided by is an external collaborator scoped
// out of this implementation; SSEComparator exists so the search loops
// in the root package have a concrete, inexpensive distortion measure
// to drive against in tests.
package butteraugli

import (
	"fmt"
	"math"

	"github.com/opsinfield/quantfield/internal/image2d"
)

// Comparator is the consumed interface from spec.md §6. A Comparator
// may report either higher-is-better or higher-is-worse; callers
// normalize to lower-is-better using GoodQualityScore/BadQualityScore
// (spec.md §4.7: "the core normalizes ... at the call site").
type Comparator interface {
	SetReferenceImage(ref *image2d.Image3F)
	// CompareWith scores decoded against the reference image installed
	// by SetReferenceImage, returning a per-pixel diffmap (one ImageF
	// the size of the reference's Y plane) and a single aggregate score.
	CompareWith(decoded *image2d.Image3F) (diffmap *image2d.ImageF, score float64, err error)
	// GoodQualityScore and BadQualityScore bound the comparator's
	// reported score range; their relative order (not their absolute
	// values) tells the caller which direction is "better".
	GoodQualityScore() float64
	BadQualityScore() float64
}

// SSEComparator is a reference Comparator computing per-pixel sum of
// squared error across all three opsin planes, in the spirit of the
// teacher's block SSE primitives (internal/dsp's *SSE16x16* family used
// by encode_analysis.go to score macroblock complexity) generalized
// from 16x16 VP8 macroblocks to whole-image comparison. Lower is
// always better, so GoodQualityScore (0) is already less than
// BadQualityScore: this comparator never needs the inversion spec.md
// §4.7 describes, which is why the root package's search tests also
// exercise an Inverted wrapper.
type SSEComparator struct {
	ref *image2d.Image3F
}

// NewSSEComparator returns an SSEComparator with no reference image
// installed; CompareWith returns an error until SetReferenceImage is
// called.
func NewSSEComparator() *SSEComparator {
	return &SSEComparator{}
}

func (c *SSEComparator) SetReferenceImage(ref *image2d.Image3F) {
	c.ref = ref
}

func (c *SSEComparator) GoodQualityScore() float64 { return 0 }
func (c *SSEComparator) BadQualityScore() float64  { return 1e9 }

func (c *SSEComparator) CompareWith(decoded *image2d.Image3F) (*image2d.ImageF, float64, error) {
	if c.ref == nil {
		return nil, 0, fmt.Errorf("butteraugli: no reference image installed")
	}
	w, h := c.ref.XSize(), c.ref.YSize()
	if decoded.XSize() != w || decoded.YSize() != h {
		return nil, 0, fmt.Errorf("butteraugli: decoded image size %dx%d does not match reference %dx%d",
			decoded.XSize(), decoded.YSize(), w, h)
	}

	diffmap := image2d.NewImageF(w, h)
	total := 0.0
	for y := 0; y < h; y++ {
		dst := diffmap.Row(y)
		for x := 0; x < w; x++ {
			sse := 0.0
			for p := 0; p < 3; p++ {
				d := c.ref.Plane(p).Get(x, y) - decoded.Plane(p).Get(x, y)
				sse += d * d
			}
			dst[x] = sse
			total += sse
		}
	}
	score := math.Sqrt(total / float64(w*h*3))
	return diffmap, score, nil
}

// Inverted wraps a Comparator and negates its score and diffmap,
// reporting GoodQualityScore/BadQualityScore in the opposite order of
// the wrapped comparator. It exists to exercise the higher-is-better
// normalization path of spec.md §4.7 against a comparator (like
// SSEComparator) that is naturally lower-is-better.
type Inverted struct {
	Comparator
}

func (i Inverted) GoodQualityScore() float64 { return -i.Comparator.GoodQualityScore() }
func (i Inverted) BadQualityScore() float64  { return -i.Comparator.BadQualityScore() }

func (i Inverted) CompareWith(decoded *image2d.Image3F) (*image2d.ImageF, float64, error) {
	diffmap, score, err := i.Comparator.CompareWith(decoded)
	if err != nil {
		return nil, 0, err
	}
	neg := image2d.NewImageF(diffmap.XSize(), diffmap.YSize())
	for y := 0; y < diffmap.YSize(); y++ {
		src := diffmap.ConstRow(y)
		dst := neg.Row(y)
		for x, v := range src {
			dst[x] = -v
		}
	}
	return neg, -score, nil
}
