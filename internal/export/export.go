// Package export unfolds a wedge aggregate into the full hexagonal
// snowflake and writes it as SVG.
package export

import (
	"fmt"
	"io"
	"math"
	"os"

	svg "github.com/ajstarks/svgo/float"

	"github.com/daniacca/snowdla/internal/dla"
)

// PixelsPerUnit converts the physical image size (centimetres) to pixels.
const PixelsPerUnit = 37.795

// StyleCircles draws one circle per crystal. It is the only style.
const StyleCircles = "circles"

// Defaults for Options.
const (
	DefaultN            = 60
	DefaultSize         = 5.0
	DefaultCrystalScale = 1.0
)

// Options controls an export.
type Options struct {
	// Path is the output file; only used by Export.
	Path string `json:"path" koanf:"path" yaml:"path"`
	// N is how many aggregate points, from the seed on, are rendered.
	N int `json:"n" koanf:"n" yaml:"n"`
	// Size is the edge of the square image in centimetres.
	Size float64 `json:"size" koanf:"size" yaml:"size"`
	// CrystalScale multiplies the circle radius.
	CrystalScale float64 `json:"crystal_scale" koanf:"crystal_scale" yaml:"crystal_scale"`
	Style        string  `json:"style" koanf:"style" yaml:"style"`
}

// DefaultOptions returns the standard export settings.
func DefaultOptions() Options {
	return Options{
		Path:         "snowflake.svg",
		N:            DefaultN,
		Size:         DefaultSize,
		CrystalScale: DefaultCrystalScale,
		Style:        StyleCircles,
	}
}

// Result is a rendered image before serialization.
type Result struct {
	Width   float64
	Height  float64
	Scale   float64
	Radius  float64
	Circles []dla.Point
}

// Scale is the pixel length of one simulation unit.
func Scale(size, domainSize float64) float64 {
	return PixelsPerUnit * size / (2 * domainSize)
}

func (o Options) validate(available int, domainSize float64) error {
	switch {
	case o.N <= 0 || o.N > available:
		return fmt.Errorf("%w: n must be in [1, %d], got %d", dla.ErrInvalidArgument, available, o.N)
	case !(o.Size > 0) || math.IsInf(o.Size, 1):
		return fmt.Errorf("%w: size must be > 0, got %v", dla.ErrInvalidArgument, o.Size)
	case !(o.CrystalScale > 0) || math.IsInf(o.CrystalScale, 1):
		return fmt.Errorf("%w: crystal_scale must be > 0, got %v", dla.ErrInvalidArgument, o.CrystalScale)
	case o.Style != StyleCircles:
		return fmt.Errorf("%w: unknown style %q", dla.ErrInvalidArgument, o.Style)
	case !(domainSize > 0):
		return fmt.Errorf("%w: domain_size must be > 0, got %v", dla.ErrInvalidArgument, domainSize)
	}
	return nil
}

// Render unfolds the first N points and maps them to pixel space with the
// origin at the image centre.
func Render(points []dla.Point, domainSize float64, opts Options) (Result, error) {
	if err := opts.validate(len(points), domainSize); err != nil {
		return Result{}, err
	}

	scale := Scale(opts.Size, domainSize)
	translate := scale * domainSize

	circles := Replicate(points[:opts.N])
	for i, c := range circles {
		circles[i] = dla.Point{X: scale*c.X + translate, Y: scale*c.Y + translate}
	}

	side := 2 * translate
	return Result{
		Width:   side,
		Height:  side,
		Scale:   scale,
		Radius:  scale / 2 * opts.CrystalScale,
		Circles: circles,
	}, nil
}

// errWriter keeps the first write error; the svg canvas discards them.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

// WriteSVG serializes a rendered image.
func WriteSVG(w io.Writer, res Result) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	// svgo rounds to two places by default
	canvas.Decimals = 8
	canvas.Start(res.Width, res.Height)
	for _, c := range res.Circles {
		canvas.Circle(c.X, c.Y, res.Radius)
	}
	canvas.End()
	return ew.err
}

// Export renders points and writes the SVG to opts.Path. File errors
// match dla.ErrIOFailure.
func Export(points []dla.Point, domainSize float64, opts Options) (Result, error) {
	res, err := Render(points, domainSize, opts)
	if err != nil {
		return Result{}, err
	}
	if opts.Path == "" {
		return Result{}, fmt.Errorf("%w: output path is required", dla.ErrInvalidArgument)
	}

	f, err := os.Create(opts.Path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: create %s: %v", dla.ErrIOFailure, opts.Path, err)
	}
	if err := WriteSVG(f, res); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("%w: write %s: %v", dla.ErrIOFailure, opts.Path, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: write %s: %v", dla.ErrIOFailure, opts.Path, err)
	}
	return res, nil
}
