package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/roi"
	"github.com/andresmejia3/camrig/internal/supervisor"
	"github.com/andresmejia3/camrig/internal/types"
)

// RegionDir is the directory created next to the source for ROI exports.
const RegionDir = "roi_videos"

// Exporter writes one masked video per region from a single decode pass.
type Exporter struct {
	Tools            ffmpeg.Tools
	OutputExt        string
	DiagnosticsBytes int
	QueueDepth       int
	Logger           *slog.Logger
}

type ExportRequest struct {
	Source   string
	Regions  []roi.Region
	Margin   int
	BaseName string
	Progress Progress
}

type ExportResult struct {
	Source  string
	OutDir  string
	Info    ffmpeg.VideoInfo
	Frames  int
	Outputs []types.RegionExport
}

// Export validates the request, then decodes the source once and feeds every
// region encoder. Per-region failures are reported in Outputs and joined
// into the returned error; the result is non-nil whenever work began.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	logger := e.logger().With("source", req.Source)

	if len(req.Regions) == 0 {
		return nil, faults.ErrNoTargets
	}
	info, err := openSource(ctx, e.Tools, req.Source)
	if err != nil {
		return nil, err
	}
	masks, err := roi.Compile(req.Regions, req.Margin, info.Width, info.Height)
	if err != nil {
		return nil, err
	}

	base := req.BaseName
	if base == "" {
		base = stem(req.Source)
	}
	if strings.ContainsAny(base, `/\`) {
		return nil, faults.Invalid("base name %q contains a path separator", base)
	}

	res := &ExportResult{
		Source:  req.Source,
		OutDir:  filepath.Join(filepath.Dir(req.Source), RegionDir),
		Info:    info,
		Outputs: make([]types.RegionExport, len(masks)),
	}

	shape := supervisor.FrameShape{Width: info.Width, Height: info.Height, PixelFormat: pixelFormat, BytesPerPixel: bytesPerPixel, FrameRate: info.FrameRate}
	dec, err := supervisor.Start(ctx, supervisor.Spec{
		Name:             "decoder",
		Binary:           e.Tools.Binary(),
		Args:             e.Tools.RawDecodeArgs(req.Source, pixelFormat, info.Rate),
		Stdout:           true,
		Frame:            &shape,
		DiagnosticsBytes: e.DiagnosticsBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	sinks := make([]sink, 0, len(masks))
	owners := make([]int, 0, len(masks))
	for i, m := range masks {
		out := &res.Outputs[i]
		out.Label, out.Width, out.Height = m.Label, m.Width(), m.Height()

		s, err := e.startRegion(ctx, m, info, base, res.OutDir, logger)
		if err != nil {
			out.Err = err
			logger.Warn("region encoder not started", "label", m.Label, "error", err)
			continue
		}
		out.Path = s.path
		sinks = append(sinks, s)
		owners = append(owners, i)
	}
	if len(sinks) == 0 {
		_ = dec.Kill()
		_, _ = dec.Finish()
		return res, collectRegionErrors(res.Outputs)
	}

	logger.Info("exporting regions", "regions", len(sinks), "width", info.Width, "height", info.Height, "fps", info.FrameRate)
	fr := fanout(ctx, dec, shape.FrameSize(), e.QueueDepth, sinks, progressFunc(req.Progress, info.Frames), logger)
	res.Frames = fr.frames

	for k, i := range owners {
		out := &res.Outputs[i]
		out.Frames = int(sinks[k].(*regionSink).enc.FramesWritten())
		if fr.sinkErrs[k] != nil {
			out.Err = fmt.Errorf("region %q: %w", out.Label, fr.sinkErrs[k])
		}
	}

	err = collectRegionErrors(res.Outputs)
	if fr.decodeErr != nil {
		err = errors.Join(fmt.Errorf("decode %s: %w", req.Source, fr.decodeErr), err)
	}
	return res, err
}

func (e *Exporter) startRegion(ctx context.Context, m *roi.Mask, src ffmpeg.VideoInfo, base, outDir string, logger *slog.Logger) (*regionSink, error) {
	dir := filepath.Join(outDir, m.Label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, base+outputExt(e.OutputExt))

	shape := supervisor.FrameShape{Width: m.Width(), Height: m.Height(), PixelFormat: pixelFormat, BytesPerPixel: bytesPerPixel, FrameRate: src.FrameRate}
	enc, err := supervisor.Start(ctx, supervisor.Spec{
		Name:   "encoder " + m.Label,
		Binary: e.Tools.Binary(),
		Args: e.Tools.RawEncodeArgs(ffmpeg.RawEncodeParams{
			Width:       shape.Width,
			Height:      shape.Height,
			PixelFormat: pixelFormat,
			Rate:        src.Rate,
			Output:      path,
		}),
		Stdin:            true,
		Frame:            &shape,
		DiagnosticsBytes: e.DiagnosticsBytes,
		Logger:           logger.With("label", m.Label),
	})
	if err != nil {
		return nil, err
	}
	return &regionSink{
		mask:       m,
		enc:        enc,
		path:       path,
		frameWidth: src.Width,
		crop:       make([]byte, shape.FrameSize()),
	}, nil
}

func outputExt(ext string) string {
	if ext = strings.TrimPrefix(ext, "."); ext == "" {
		return ".mp4"
	}
	return "." + ext
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// regionSink crops and masks each frame and writes it to its encoder.
type regionSink struct {
	mask       *roi.Mask
	enc        *supervisor.Handle
	path       string
	frameWidth int
	crop       []byte
}

func (s *regionSink) consume(_ int, frame []byte) error {
	if err := s.mask.Extract(frame, s.frameWidth, bytesPerPixel, s.crop); err != nil {
		return err
	}
	return s.enc.WriteFrame(s.crop)
}

func (s *regionSink) close() error {
	_, err := s.enc.Finish()
	return err
}

func collectRegionErrors(outputs []types.RegionExport) error {
	var errs []error
	for _, o := range outputs {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// openSource fails with ErrSourceUnreadable unless path is a regular file
// ffprobe can read a video stream from.
func openSource(ctx context.Context, tools ffmpeg.Tools, path string) (ffmpeg.VideoInfo, error) {
	if strings.TrimSpace(path) == "" {
		return ffmpeg.VideoInfo{}, fmt.Errorf("%w: empty path", faults.ErrSourceUnreadable)
	}
	st, err := os.Stat(path)
	if err != nil {
		return ffmpeg.VideoInfo{}, fmt.Errorf("%w: %w", faults.ErrSourceUnreadable, err)
	}
	if !st.Mode().IsRegular() {
		return ffmpeg.VideoInfo{}, fmt.Errorf("%w: %s is not a regular file", faults.ErrSourceUnreadable, path)
	}
	info, err := tools.Probe(ctx, path)
	if err != nil {
		return ffmpeg.VideoInfo{}, fmt.Errorf("%w: %w", faults.ErrSourceUnreadable, err)
	}
	return info, nil
}

func progressFunc(p Progress, total int) func(int) {
	if p == nil {
		return nil
	}
	return func(done int) { p(done, total) }
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
