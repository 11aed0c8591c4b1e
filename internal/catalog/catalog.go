// Package catalog records finished sessions and jobs in the optional
// database. Recording failures are logged and never fail the job.
package catalog

import (
	"context"
	"log/slog"

	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/segment"
	"github.com/andresmejia3/camrig/internal/store"
	"github.com/andresmejia3/camrig/internal/types"
)

// Sink is the subset of *store.Store the recorder writes to.
type Sink interface {
	RecordSession(ctx context.Context, rec *types.SessionRecord) error
	EnsureVideoMetadata(ctx context.Context, v store.Video) error
	RecordClips(ctx context.Context, videoID string, clips []types.Clip) error
	RecordRegionExports(ctx context.Context, videoID string, outputs []types.RegionExport) error
	RecordDetections(ctx context.Context, jobID, videoID string, events []types.DetectionEvent) (int64, error)
}

// Recorder is safe to use with a nil Sink, in which case every call is a no-op.
type Recorder struct {
	Sink   Sink
	Logger *slog.Logger
}

func (r *Recorder) enabled() bool { return r != nil && r.Sink != nil }

func (r *Recorder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Session stores a stopped session.
func (r *Recorder) Session(ctx context.Context, rec *types.SessionRecord) {
	if !r.enabled() || rec == nil {
		return
	}
	if err := r.Sink.RecordSession(ctx, rec); err != nil {
		r.logger().Warn("catalog: record session failed", "session_id", rec.ID, "error", err)
	}
}

// Export stores the regions produced from one source.
func (r *Recorder) Export(ctx context.Context, res *pipeline.ExportResult) {
	if !r.enabled() || res == nil {
		return
	}
	id, ok := r.video(ctx, res.Source, res.Info)
	if !ok {
		return
	}
	if err := r.Sink.RecordRegionExports(ctx, id, res.Outputs); err != nil {
		r.logger().Warn("catalog: record exports failed", "video_id", id, "error", err)
	}
}

// Cut stores the clips cut from src.
func (r *Recorder) Cut(ctx context.Context, src string, res *segment.CutResult) {
	if !r.enabled() || res == nil {
		return
	}
	id, ok := r.video(ctx, src, ffmpeg.VideoInfo{})
	if !ok {
		return
	}
	if err := r.Sink.RecordClips(ctx, id, res.Clips); err != nil {
		r.logger().Warn("catalog: record clips failed", "video_id", id, "error", err)
	}
}

// Detect stores the events of every source in a detection job.
func (r *Recorder) Detect(ctx context.Context, res *pipeline.DetectResult) {
	if !r.enabled() || res == nil {
		return
	}
	for _, src := range res.Sources {
		id, ok := r.video(ctx, src.Source, ffmpeg.VideoInfo{})
		if !ok {
			continue
		}
		n, err := r.Sink.RecordDetections(ctx, res.JobID, id, src.Events)
		if err != nil {
			r.logger().Warn("catalog: record detections failed", "job_id", res.JobID, "video_id", id, "error", err)
			continue
		}
		r.logger().Debug("catalog: detections stored", "job_id", res.JobID, "label", src.Label, "rows", n)
	}
}

func (r *Recorder) video(ctx context.Context, path string, info ffmpeg.VideoInfo) (string, bool) {
	id, err := ffmpeg.SourceID(path)
	if err != nil {
		r.logger().Warn("catalog: cannot identify source", "path", path, "error", err)
		return "", false
	}
	v := store.Video{
		ID:        id,
		Path:      path,
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: info.FrameRate,
		Duration:  info.Duration,
	}
	if err := r.Sink.EnsureVideoMetadata(ctx, v); err != nil {
		r.logger().Warn("catalog: register source failed", "path", path, "error", err)
		return "", false
	}
	return id, true
}
