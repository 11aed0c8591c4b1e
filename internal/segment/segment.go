// Package segment cuts time ranges out of a source video, one ffmpeg process
// per clip.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/supervisor"
	"github.com/andresmejia3/camrig/internal/types"
)

// ClipDir is created next to the source to hold cut clips.
const ClipDir = "split_videos"

// Range is a [Start, End) interval in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r Range) Duration() float64 { return r.End - r.Start }

// Cutter re-encodes clips using a two-stage seek.
type Cutter struct {
	Tools            ffmpeg.Tools
	OutputExt        string
	MaxParallel      int
	CoarseSeekMargin float64
	DiagnosticsBytes int
	Logger           *slog.Logger
}

type CutRequest struct {
	Source   string
	BaseName string
	Segments []Range
}

type CutResult struct {
	OutDir string
	Clips  []types.Clip
}

// CutAll validates every range before spawning anything, then cuts clips
// concurrently. Clip failures are reported per clip and joined into the
// returned error.
func (c *Cutter) CutAll(ctx context.Context, req CutRequest) (*CutResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, fmt.Errorf("%w: empty path", faults.ErrSourceUnreadable)
	}
	st, err := os.Stat(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrSourceUnreadable, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", faults.ErrSourceUnreadable, req.Source)
	}
	if len(req.Segments) == 0 {
		return nil, faults.ErrNoTargets
	}
	for i, r := range req.Segments {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
	}

	base := req.BaseName
	if base == "" {
		b := filepath.Base(req.Source)
		base = strings.TrimSuffix(b, filepath.Ext(b))
	}
	if strings.ContainsAny(base, `/\`) || base == ".." {
		return nil, faults.Invalid("base name %q contains a path separator", base)
	}

	res := &CutResult{
		OutDir: filepath.Join(filepath.Dir(req.Source), ClipDir, suffix(base)),
		Clips:  make([]types.Clip, len(req.Segments)),
	}
	if err := os.MkdirAll(res.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", res.OutDir, err)
	}

	logger := c.logger().With("source", req.Source)
	var g errgroup.Group
	g.SetLimit(max(1, c.MaxParallel))
	for i, r := range req.Segments {
		clip := &res.Clips[i]
		clip.Index = i + 1
		clip.Start, clip.End = r.Start, r.End
		clip.Path = filepath.Join(res.OutDir, fmt.Sprintf("%s_clip_%02d%s", base, i+1, c.ext()))
		g.Go(func() error {
			clip.Err = c.cut(ctx, req.Source, clip, logger)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, clip := range res.Clips {
		if clip.Err != nil {
			errs = append(errs, fmt.Errorf("clip %02d: %w", clip.Index, clip.Err))
		}
	}
	return res, errors.Join(errs...)
}

func (c *Cutter) cut(ctx context.Context, src string, clip *types.Clip, logger *slog.Logger) error {
	args := c.Tools.CutArgs(ffmpeg.CutParams{
		Source:      src,
		Start:       clip.Start,
		End:         clip.End,
		Output:      clip.Path,
		CoarseSlack: c.CoarseSeekMargin,
	})
	res, err := supervisor.Run(ctx, supervisor.Spec{
		Name:             fmt.Sprintf("cut %02d", clip.Index),
		Binary:           c.Tools.Binary(),
		Args:             args,
		DiagnosticsBytes: c.DiagnosticsBytes,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	logger.Debug("clip written", "clip", clip.Index, "path", clip.Path, "elapsed", res.Elapsed)
	return nil
}

func validate(r Range) error {
	if !finite(r.Start) || !finite(r.End) {
		return faults.Invalid("range %v-%v is not finite", r.Start, r.End)
	}
	if r.Start < 0 {
		return faults.Invalid("start %.3f is negative", r.Start)
	}
	if r.Duration() <= 0 {
		return fmt.Errorf("%w: start %.3f, end %.3f", faults.ErrNonPositiveDuration, r.Start, r.End)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// suffix names the clip directory after the last four characters of base.
func suffix(base string) string {
	r := []rune(base)
	if len(r) <= 4 {
		return base
	}
	return string(r[len(r)-4:])
}

func (c *Cutter) ext() string {
	if e := strings.TrimPrefix(c.OutputExt, "."); e != "" {
		return "." + e
	}
	return ".mp4"
}

func (c *Cutter) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
