// Command quantfield-debug loads an image, runs the adaptive
// quantization field estimator against it, and prints per-block field
// statistics. It is a debug/benchmark aid, not part of an encoder.
package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/opsinfield/quantfield"
	"github.com/opsinfield/quantfield/internal/acstrategy"
	"github.com/opsinfield/quantfield/internal/butteraugli"
	"github.com/opsinfield/quantfield/internal/image2d"
	"github.com/opsinfield/quantfield/internal/quantizer"
	"github.com/opsinfield/quantfield/internal/roundtrip"
)

// config is the optional YAML sidecar file loaded via --config, mirroring
// the speed/quality knobs a real encoder invocation would expose.
type config struct {
	ButteraugliTarget float64 `yaml:"butteraugli_target"`
	SpeedTier         string  `yaml:"speed_tier"`
	MaxIters          int     `yaml:"max_iters"`
	MaxItersHQ        int     `yaml:"max_iters_hq"`
}

func defaultConfig() config {
	return config{
		ButteraugliTarget: 1.0,
		SpeedTier:         "squirrel",
		MaxIters:          4,
		MaxItersHQ:        12,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("quantfield-debug: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("quantfield-debug: parsing config: %w", err)
	}
	return cfg, nil
}

var speedTiers = map[string]quantfield.SpeedTier{
	"falcon":   quantfield.Falcon,
	"cheetah":  quantfield.Cheetah,
	"hare":     quantfield.Hare,
	"wombat":   quantfield.Wombat,
	"squirrel": quantfield.Squirrel,
	"kitten":   quantfield.Kitten,
	"tortoise": quantfield.Tortoise,
}

func main() {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "quantfield-debug <image>",
		Short: "Run the adaptive quantization field estimator against an image and print per-block statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], configPath, verbose)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config (butteraugli_target, speed_tier, max_iters, max_iters_hq)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, configPath string, verbose bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	tier, ok := speedTiers[cfg.SpeedTier]
	if !ok {
		return fmt.Errorf("quantfield-debug: unknown speed_tier %q", cfg.SpeedTier)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("quantfield-debug: opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("quantfield-debug: decoding %s: %w", path, err)
	}

	opsin := padToMultipleOf8(approxOpsinFromSRGB(img))
	bw := opsin.XSize() / 8
	bh := opsin.YSize() / 8
	ac := acstrategy.NewImage(bw, bh)

	q := quantizer.NewSimple()
	cmp := butteraugli.NewSSEComparator()
	rt := roundtrip.WebP

	cp := quantfield.CompressParams{
		SpeedTier:  tier,
		MaxIters:   cfg.MaxIters,
		MaxItersHQ: cfg.MaxItersHQ,
	}
	opts := &quantfield.Options{Logger: &logger}

	field, err := quantfield.FindBestQuantizer(opsin, opsin, ac, cfg.ButteraugliTarget, cp, q, cmp, rt, nil, opts)
	if err != nil {
		return fmt.Errorf("quantfield-debug: %w", err)
	}

	printStats(field)
	return nil
}

// approxOpsinFromSRGB is a placeholder sRGB->opsin approximation: it
// normalizes each 8-bit channel into [0,1] and assigns them directly to
// the X/Y/B planes. The real opsin absorbance transform is an external
// collaborator this spec scopes out; this only needs to produce
// plausible-looking per-block structure for the debug printout.
func approxOpsinFromSRGB(img image.Image) *image2d.Image3F {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image2d.NewImage3F(w, h)
	for y := 0; y < h; y++ {
		xRow := out.PlaneRow(0, y)
		yRow := out.PlaneRow(1, y)
		bRow := out.PlaneRow(2, y)
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			xRow[x] = float64(r>>8)/255.0 - 0.5
			yRow[x] = float64(g>>8) / 255.0
			bRow[x] = float64(bl>>8)/255.0 - 0.5
		}
	}
	return out
}

// padToMultipleOf8 extends src on the right/bottom by edge replication so
// both dimensions are multiples of 8, matching FindBestQuantizer's
// precondition on opsin image size.
func padToMultipleOf8(src *image2d.Image3F) *image2d.Image3F {
	w, h := src.XSize(), src.YSize()
	pw := (w + 7) &^ 7
	ph := (h + 7) &^ 7
	if pw == w && ph == h {
		return src
	}
	out := image2d.NewImage3F(pw, ph)
	for p := 0; p < 3; p++ {
		for y := 0; y < ph; y++ {
			sy := y
			if sy >= h {
				sy = h - 1
			}
			srcRow := src.PlaneRow(p, sy)
			dstRow := out.PlaneRow(p, y)
			for x := 0; x < pw; x++ {
				sx := x
				if sx >= w {
					sx = w - 1
				}
				dstRow[x] = srcRow[sx]
			}
		}
	}
	return out
}

func printStats(field *image2d.ImageF) {
	min, max := field.MinMax()
	sum := 0.0
	n := 0
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
	fmt.Printf("blocks: %dx%d  min=%.4f  max=%.4f  mean=%.4f\n", field.XSize(), field.YSize(), min, max, mean)
}
