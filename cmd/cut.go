package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/segment"
)

type cutOptions struct {
	InputPath string
	Segments  []string
	BaseName  string
}

var cutOpts cutOptions

var cutCmd = &cobra.Command{
	Use:   "cut",
	Short: "Cut time ranges out of a video into separate clips",
	Long: `Each --segment START-END (seconds) becomes
<input dir>/split_videos/<last 4 chars of base name>/<base name>_clip_NN.<ext>.`,
	Example: `  camrig cut -i trial1_cam1.mp4 -s 10-12.5 -s 30-41`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCut(cmd.Context(), cutOpts)
	},
}

func init() {
	cutCmd.Flags().StringVarP(&cutOpts.InputPath, "input", "i", "", "Path to video")
	cutCmd.Flags().StringArrayVarP(&cutOpts.Segments, "segment", "s", nil, "Time range START-END in seconds (repeatable)")
	cutCmd.Flags().StringVar(&cutOpts.BaseName, "base-name", "", "Clip name prefix (default: input file stem)")

	cutCmd.MarkFlagRequired("input")
	cutCmd.MarkFlagRequired("segment")
	rootCmd.AddCommand(cutCmd)
}

func runCut(ctx context.Context, opts cutOptions) error {
	ranges, err := parseSegments(opts.Segments)
	if err != nil {
		return fail("Invalid segment", err)
	}

	c := &segment.Cutter{
		Tools:            tools(),
		OutputExt:        cfg.FFmpeg.OutputExt,
		MaxParallel:      cfg.Cut.MaxParallel,
		CoarseSeekMargin: cfg.Cut.CoarseSeekMargin,
		DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
		Logger:           logger,
	}
	res, err := c.CutAll(ctx, segment.CutRequest{
		Source:   opts.InputPath,
		BaseName: opts.BaseName,
		Segments: ranges,
	})
	if res == nil {
		return fail("Cut rejected", err)
	}
	recorder().Cut(ctx, opts.InputPath, res)

	fmt.Fprintf(os.Stderr, "📂 Output directory: %s\n", res.OutDir)
	for _, clip := range res.Clips {
		if clip.Err != nil {
			fmt.Fprintf(os.Stderr, "  ❌ clip %02d [%.3f, %.3f) %v\n", clip.Index, clip.Start, clip.End, clip.Err)
			continue
		}
		fmt.Fprintf(os.Stderr, "  ✅ clip %02d [%.3f, %.3f) %s\n", clip.Index, clip.Start, clip.End, clip.Path)
	}
	return fail("Some clips failed", err)
}

// parseSegments reads "START-END" ranges in seconds.
func parseSegments(specs []string) ([]segment.Range, error) {
	ranges := make([]segment.Range, 0, len(specs))
	for _, s := range specs {
		lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
		if !ok {
			return nil, fmt.Errorf("%q: want START-END", s)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: bad start: %w", s, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: bad end: %w", s, err)
		}
		ranges = append(ranges, segment.Range{Start: start, End: end})
	}
	return ranges, nil
}
