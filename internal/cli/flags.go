package cli

import (
	"github.com/spf13/pflag"

	"github.com/daniacca/snowdla/internal/config"
)

func addGrowFlags(fs *pflag.FlagSet, d config.Config) {
	fs.Int("count", d.Count, "number of crystals to attach")
	fs.String("flake-id", d.FlakeID, "flake identifier")
}

func addExportFlags(fs *pflag.FlagSet, d config.Config) {
	fs.StringP("output", "o", d.Export.Path, "SVG output path (empty disables export)")
	fs.Int("n", d.Export.N, "number of aggregate points to render")
	fs.Float64("size", d.Export.Size, "image edge in centimetres")
	fs.Float64("crystal-scale", d.Export.CrystalScale, "circle radius multiplier")
	fs.String("style", d.Export.Style, "render style (circles)")
}
