package quantfield

import (
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/rs/zerolog"
)

// Options carries the ambient knobs the search regimes consult but that
// spec.md itself never mentions: logging and debug-dump hooks. A zero
// Options is valid and silent.
type Options struct {
	// Logger receives structured progress events (iteration counts,
	// score trajectory, regime chosen). A nil Logger disables logging.
	Logger *zerolog.Logger

	// AuxOut receives debug heatmap/xyb dumps, mirroring the
	// DumpHeatmaps/DumpXybImage hooks spec.md §6 lists as part of the
	// produced-artifacts surface. A nil AuxOut is replaced with
	// NopAuxOut.
	AuxOut AuxOut
}

func (o *Options) logger() *zerolog.Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *Options) auxOut() AuxOut {
	if o == nil || o.AuxOut == nil {
		return NopAuxOut{}
	}
	return o.AuxOut
}

// AuxOut receives optional debug artifacts produced while searching for
// a quant field. Implementations must not retain the passed-in image
// beyond the call, since callers may reuse the backing array.
type AuxOut interface {
	// DumpHeatmap is called with a named per-block scalar map (e.g. the
	// tile distmap or the DistToPeakMap output) at points the search
	// regimes find useful to visualize.
	DumpHeatmap(name string, field *image2d.ImageF)

	// DumpXybImage is called with the opsin image a search regime is
	// currently operating on.
	DumpXybImage(name string, opsin *image2d.Image3F)
}

// NopAuxOut discards everything. It is the default when Options.AuxOut
// is nil.
type NopAuxOut struct{}

func (NopAuxOut) DumpHeatmap(string, *image2d.ImageF)   {}
func (NopAuxOut) DumpXybImage(string, *image2d.Image3F) {}
