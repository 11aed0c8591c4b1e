package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/supervisor"
	"github.com/andresmejia3/camrig/internal/types"
)

// Threshold selects pixels whose HSV value lies in [VLow, VHigh]; a frame is
// a detection when their share reaches MinFrac.
type Threshold struct {
	VLow    int     `json:"v_low"`
	VHigh   int     `json:"v_high"`
	MinFrac float64 `json:"min_frac"`
}

// DefaultThreshold flags mostly dark frames.
var DefaultThreshold = Threshold{VLow: 0, VHigh: 80, MinFrac: 0.05}

func (t Threshold) validate() error {
	if t.VLow < 0 || t.VHigh > 255 || t.VLow > t.VHigh {
		return faults.Invalid("value range [%d, %d] must lie within [0, 255]", t.VLow, t.VHigh)
	}
	if t.MinFrac < 0 || t.MinFrac > 1 {
		return faults.Invalid("min_frac %v must lie within [0, 1]", t.MinFrac)
	}
	return nil
}

// Detector annotates sources where a threshold is met and logs each hit.
type Detector struct {
	Tools            ffmpeg.Tools
	ResultsDir       string
	OutputExt        string
	MaxParallel      int
	DiagnosticsBytes int
	QueueDepth       int
	Logger           *slog.Logger
}

type DetectRequest struct {
	Sources   []string
	Threshold Threshold
	// Progress receives frames decoded across all sources.
	Progress Progress
}

type SourceResult struct {
	Source    string
	Label     string
	Annotated string
	EventLog  string
	Frames    int
	Events    []types.DetectionEvent
	Err       error
}

type DetectResult struct {
	JobID   string
	OutDir  string
	Sources []SourceResult
}

// Detect validates every source before creating the job directory, then
// processes sources concurrently. A failing source does not stop its siblings.
func (d *Detector) Detect(ctx context.Context, req DetectRequest) (*DetectResult, error) {
	if len(req.Sources) == 0 {
		return nil, faults.ErrNoTargets
	}
	if err := req.Threshold.validate(); err != nil {
		return nil, err
	}
	infos := make([]ffmpeg.VideoInfo, len(req.Sources))
	total := 0
	for i, src := range req.Sources {
		info, err := openSource(ctx, d.Tools, src)
		if err != nil {
			return nil, err
		}
		infos[i] = info
		total += info.Frames
	}

	jobID := uuid.NewString()
	res := &DetectResult{
		JobID:   jobID,
		OutDir:  filepath.Join(d.ResultsDir, jobID),
		Sources: make([]SourceResult, len(req.Sources)),
	}
	if err := os.MkdirAll(res.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	var (
		mu   sync.Mutex
		done int
	)
	progress := func(int) {
		if req.Progress == nil {
			return
		}
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		req.Progress(n, total)
	}

	logger := d.logger().With("job_id", jobID)
	var g errgroup.Group
	g.SetLimit(max(1, d.MaxParallel))
	for k, src := range req.Sources {
		k, src := k, src
		g.Go(func() error {
			res.Sources[k] = d.detectOne(ctx, res.OutDir, k, src, infos[k], req.Threshold, progress, logger)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, s := range res.Sources {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Source, s.Err))
		}
	}
	return res, errors.Join(errs...)
}

func (d *Detector) detectOne(ctx context.Context, outDir string, k int, src string, info ffmpeg.VideoInfo, th Threshold, progress func(int), logger *slog.Logger) SourceResult {
	label := fmt.Sprintf("%s_%d", stem(src), k)
	out := SourceResult{
		Source:    src,
		Label:     label,
		Annotated: filepath.Join(outDir, label+"_annotated"+outputExt(d.OutputExt)),
		EventLog:  filepath.Join(outDir, label+"_detections.csv"),
	}
	logger = logger.With("source", src, "label", label)

	shape := supervisor.FrameShape{Width: info.Width, Height: info.Height, PixelFormat: pixelFormat, BytesPerPixel: bytesPerPixel, FrameRate: info.FrameRate}
	dec, err := supervisor.Start(ctx, supervisor.Spec{
		Name:             "decoder",
		Binary:           d.Tools.Binary(),
		Args:             d.Tools.RawDecodeArgs(src, pixelFormat, info.Rate),
		Stdout:           true,
		Frame:            &shape,
		DiagnosticsBytes: d.DiagnosticsBytes,
		Logger:           logger,
	})
	if err != nil {
		out.Err = err
		return out
	}
	enc, err := supervisor.Start(ctx, supervisor.Spec{
		Name:   "encoder",
		Binary: d.Tools.Binary(),
		Args: d.Tools.RawEncodeArgs(ffmpeg.RawEncodeParams{
			Width:       shape.Width,
			Height:      shape.Height,
			PixelFormat: pixelFormat,
			Rate:        info.Rate,
			Output:      out.Annotated,
		}),
		Stdin:            true,
		Frame:            &shape,
		DiagnosticsBytes: d.DiagnosticsBytes,
		Logger:           logger,
	})
	if err != nil {
		_ = dec.Kill()
		_, _ = dec.Finish()
		out.Err = err
		return out
	}
	events, err := createEventLog(out.EventLog)
	if err != nil {
		for _, h := range []*supervisor.Handle{dec, enc} {
			_ = h.Kill()
			_, _ = h.Finish()
		}
		out.Err = err
		return out
	}

	s := &detectSink{
		enc:       enc,
		events:    events,
		rng:       ValueRange(uint8(th.VLow), uint8(th.VHigh)),
		minFrac:   th.MinFrac,
		frameRate: shape.FrameRate,
		label:     label,
		width:     shape.Width,
		height:    shape.Height,
	}
	fr := fanout(ctx, dec, shape.FrameSize(), d.QueueDepth, []sink{s}, progress, logger)
	out.Frames = fr.frames
	out.Events = events.events
	out.Err = errors.Join(fr.decodeErr, fr.sinkErrs[0])
	logger.Info("detection finished", "frames", fr.frames, "events", len(out.Events))
	return out
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// detectSink thresholds each frame, logs hits, marks them and re-encodes
// every frame in order.
type detectSink struct {
	enc       *supervisor.Handle
	events    *eventLog
	rng       HSVRange
	minFrac   float64
	frameRate float64
	label     string
	width     int
	height    int
}

func (s *detectSink) consume(index int, frame []byte) error {
	if s.rng.Fraction(frame) >= s.minFrac {
		ev := types.DetectionEvent{Timestamp: float64(index) / s.frameRate, Label: s.label}
		if err := s.events.append(ev); err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		drawMarker(frame, s.width, s.height)
	}
	return s.enc.WriteFrame(frame)
}

func (s *detectSink) close() error {
	_, encErr := s.enc.Finish()
	return errors.Join(encErr, s.events.close())
}
