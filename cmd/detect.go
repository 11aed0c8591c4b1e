package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/pipeline"
)

type detectOptions struct {
	VLow     int
	VHigh    int
	MinFrac  float64
	Parallel int
}

var detectOpts detectOptions

var detectCmd = &cobra.Command{
	Use:   "detect VIDEO...",
	Short: "Flag frames whose HSV value falls inside a range",
	Long: `For each video, writes <stem>_<k>_annotated.<ext> with a red marker on every
detected frame, and <stem>_<k>_detections.csv listing the detection timestamps.
Outputs of one run share <results dir>/<job id>/.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := detectOpts
		flags := cmd.Flags()
		// Unset flags fall back to the [detection] config section.
		if !flags.Changed("v-low") {
			opts.VLow = cfg.Detection.VLow
		}
		if !flags.Changed("v-high") {
			opts.VHigh = cfg.Detection.VHigh
		}
		if !flags.Changed("min-frac") {
			opts.MinFrac = cfg.Detection.MinFrac
		}
		if !flags.Changed("parallel") {
			opts.Parallel = cfg.Cut.MaxParallel
		}
		return runDetect(cmd.Context(), args, opts)
	},
}

func init() {
	d := pipeline.DefaultThreshold
	detectCmd.Flags().IntVar(&detectOpts.VLow, "v-low", d.VLow, "Lowest HSV value (0-255) counted as a hit")
	detectCmd.Flags().IntVar(&detectOpts.VHigh, "v-high", d.VHigh, "Highest HSV value (0-255) counted as a hit")
	detectCmd.Flags().Float64Var(&detectOpts.MinFrac, "min-frac", d.MinFrac, "Fraction of hit pixels that makes a frame a detection")
	detectCmd.Flags().IntVarP(&detectOpts.Parallel, "parallel", "p", 4, "Videos processed at once")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, sources []string, opts detectOptions) error {
	det := &pipeline.Detector{
		Tools:            tools(),
		ResultsDir:       cfg.Paths.ResultsDir,
		OutputExt:        cfg.FFmpeg.OutputExt,
		MaxParallel:      opts.Parallel,
		DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
		Logger:           logger,
	}
	bar := newFrameBar("🔍 Detecting")
	res, err := det.Detect(ctx, pipeline.DetectRequest{
		Sources:   sources,
		Threshold: pipeline.Threshold{VLow: opts.VLow, VHigh: opts.VHigh, MinFrac: opts.MinFrac},
		Progress:  bar.Progress(),
	})
	bar.Finish()
	if res == nil {
		return fail("Detection rejected", err)
	}
	recorder().Detect(ctx, res)

	fmt.Fprintf(os.Stderr, "📂 Job %s: %s\n", res.JobID, res.OutDir)
	for _, s := range res.Sources {
		if s.Err != nil {
			fmt.Fprintf(os.Stderr, "  ❌ %-16s %v\n", s.Label, s.Err)
			continue
		}
		fmt.Fprintf(os.Stderr, "  ✅ %-16s %d detections in %d frames\n", s.Label, len(s.Events), s.Frames)
	}
	return fail("Some videos failed", err)
}
