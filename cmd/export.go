package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/roi"
)

type exportOptions struct {
	InputPath  string
	RegionFile string
	Regions    string
	Margin     int
	BaseName   string
}

var exportOpts exportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one masked video per region of interest",
	Long: `Decodes the input once and writes one cropped, masked video per region to
<input dir>/roi_videos/<label>/<base name>.<ext>.

Regions are a JSON list: [{"label": "door", "points": [[x, y], ...]}, ...]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), exportOpts)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOpts.InputPath, "input", "i", "", "Path to video")
	exportCmd.Flags().StringVarP(&exportOpts.RegionFile, "regions-file", "r", "", "JSON file with the region list")
	exportCmd.Flags().StringVar(&exportOpts.Regions, "regions", "", "Inline JSON region list")
	exportCmd.Flags().IntVarP(&exportOpts.Margin, "margin", "m", 0, "Pixels added around each region's bounding box")
	exportCmd.Flags().StringVar(&exportOpts.BaseName, "base-name", "", "Output file name (default: input file stem)")

	exportCmd.MarkFlagRequired("input")
	exportCmd.MarkFlagsOneRequired("regions-file", "regions")
	exportCmd.MarkFlagsMutuallyExclusive("regions-file", "regions")
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, opts exportOptions) error {
	regions, err := loadRegions(opts.RegionFile, opts.Regions)
	if err != nil {
		return fail("Invalid regions", err)
	}

	exp := &pipeline.Exporter{
		Tools:            tools(),
		OutputExt:        cfg.FFmpeg.OutputExt,
		DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
		Logger:           logger,
	}
	bar := newFrameBar("✂️  Exporting regions")
	res, err := exp.Export(ctx, pipeline.ExportRequest{
		Source:   opts.InputPath,
		Regions:  regions,
		Margin:   opts.Margin,
		BaseName: opts.BaseName,
		Progress: bar.Progress(),
	})
	bar.Finish()
	if res == nil {
		return fail("Export rejected", err)
	}
	recorder().Export(ctx, res)

	fmt.Fprintf(os.Stderr, "📂 Output directory: %s (%d frames)\n", res.OutDir, res.Frames)
	for _, o := range res.Outputs {
		if o.Err != nil {
			fmt.Fprintf(os.Stderr, "  ❌ %-16s %v\n", o.Label, o.Err)
			continue
		}
		fmt.Fprintf(os.Stderr, "  ✅ %-16s %dx%d  %s\n", o.Label, o.Width, o.Height, o.Path)
	}
	return fail("Some regions failed", err)
}

// loadRegions reads the region list from a file or an inline string.
func loadRegions(path, inline string) ([]roi.Region, error) {
	data := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var regions []roi.Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}
	return regions, nil
}
