package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/camrig/internal/types"
)

// Store is the PostgreSQL catalog of recordings and the jobs run on them.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			frame_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS recording_sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			dir TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS camera_outputs (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES recording_sessions(id) ON DELETE CASCADE,
			camera_id TEXT NOT NULL,
			path TEXT NOT NULL,
			error TEXT,
			UNIQUE (session_id, camera_id)
		);
		CREATE TABLE IF NOT EXISTS clips (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			clip_index INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			path TEXT NOT NULL,
			error TEXT
		);
		CREATE TABLE IF NOT EXISTS roi_exports (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			frames INT NOT NULL,
			error TEXT
		);
		CREATE TABLE IF NOT EXISTS detection_events (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			timestamp_sec DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS clips_video_id_idx ON clips (video_id);
		CREATE INDEX IF NOT EXISTS roi_exports_video_id_idx ON roi_exports (video_id);
		CREATE INDEX IF NOT EXISTS detection_events_job_idx ON detection_events (job_id, timestamp_sec);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Video describes a source file the catalog knows about.
type Video struct {
	ID        string
	Path      string
	Width     int
	Height    int
	FrameRate float64
	Duration  float64
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
// Zero geometry fields keep the values already stored.
func (s *Store) EnsureVideoMetadata(ctx context.Context, v Video) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_metadata (id, path, width, height, frame_rate, duration, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			indexed_at = NOW(), path = EXCLUDED.path,
			width = COALESCE(NULLIF(EXCLUDED.width, 0), video_metadata.width),
			height = COALESCE(NULLIF(EXCLUDED.height, 0), video_metadata.height),
			frame_rate = COALESCE(NULLIF(EXCLUDED.frame_rate, 0), video_metadata.frame_rate),
			duration = COALESCE(NULLIF(EXCLUDED.duration, 0), video_metadata.duration)
	`, v.ID, v.Path, v.Width, v.Height, v.FrameRate, v.Duration)
	return err
}

// RecordSession stores a stopped session and its camera outputs.
func (s *Store) RecordSession(ctx context.Context, rec *types.SessionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO recording_sessions (id, name, dir, label, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET stopped_at = EXCLUDED.stopped_at
	`, rec.ID, rec.Name, rec.Dir, rec.Label, rec.StartedAt, rec.StoppedAt)
	if err != nil {
		return err
	}

	for _, c := range rec.Cameras {
		_, err = tx.Exec(ctx, `
			INSERT INTO camera_outputs (session_id, camera_id, path, error)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, camera_id) DO UPDATE SET path = EXCLUDED.path, error = EXCLUDED.error
		`, rec.ID, c.CameraID, c.Path, errText(c.Err))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecordClips replaces the clips stored for a video.
func (s *Store) RecordClips(ctx context.Context, videoID string, clips []types.Clip) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Re-cutting a source replaces its previous clips.
	if _, err := tx.Exec(ctx, "DELETE FROM clips WHERE video_id = $1", videoID); err != nil {
		return err
	}
	for _, c := range clips {
		_, err := tx.Exec(ctx, `
			INSERT INTO clips (video_id, clip_index, start_time, end_time, path, error)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, videoID, c.Index, c.Start, c.End, c.Path, errText(c.Err))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Clips returns the clips stored for a video in index order.
func (s *Store) Clips(ctx context.Context, videoID string) ([]types.Clip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT clip_index, start_time, end_time, path, COALESCE(error, '') FROM clips
		WHERE video_id = $1 ORDER BY clip_index
	`, videoID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Clip, error) {
		var (
			c   types.Clip
			msg string
		)
		if err := row.Scan(&c.Index, &c.Start, &c.End, &c.Path, &msg); err != nil {
			return c, err
		}
		if msg != "" {
			c.Err = errors.New(msg)
		}
		return c, nil
	})
}

// RecordRegionExports replaces the ROI exports stored for a video.
func (s *Store) RecordRegionExports(ctx context.Context, videoID string, outputs []types.RegionExport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM roi_exports WHERE video_id = $1", videoID); err != nil {
		return err
	}
	for _, o := range outputs {
		_, err := tx.Exec(ctx, `
			INSERT INTO roi_exports (video_id, label, path, width, height, frames, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, videoID, o.Label, o.Path, o.Width, o.Height, o.Frames, errText(o.Err))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecordDetections bulk-loads the events of one source in a detection job.
func (s *Store) RecordDetections(ctx context.Context, jobID, videoID string, events []types.DetectionEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	return s.pool.CopyFrom(ctx,
		pgx.Identifier{"detection_events"},
		[]string{"job_id", "video_id", "label", "timestamp_sec"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			return []any{jobID, videoID, events[i].Label, events[i].Timestamp}, nil
		}),
	)
}

// Detections returns a job's events ordered by source label and time.
func (s *Store) Detections(ctx context.Context, jobID string) ([]types.DetectionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label, timestamp_sec FROM detection_events
		WHERE job_id = $1 ORDER BY label, timestamp_sec, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.DetectionEvent, error) {
		var ev types.DetectionEvent
		err := row.Scan(&ev.Label, &ev.Timestamp)
		return ev, err
	})
}

// SessionSummary is one row of the recorded sessions listing.
type SessionSummary struct {
	ID        string
	Name      string
	Dir       string
	Label     string
	StartedAt time.Time
	StoppedAt time.Time
	Cameras   int
	Failed    int
}

// ListSessions returns the most recently stopped sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.dir, s.label, s.started_at, s.stopped_at,
			COUNT(c.id), COUNT(c.error)
		FROM recording_sessions s
		LEFT JOIN camera_outputs c ON c.session_id = s.id
		GROUP BY s.id
		ORDER BY s.stopped_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionSummary, error) {
		var r SessionSummary
		err := row.Scan(&r.ID, &r.Name, &r.Dir, &r.Label, &r.StartedAt, &r.StoppedAt, &r.Cameras, &r.Failed)
		return r, err
	})
}

// SessionOutputs returns the camera files of a recorded session.
func (s *Store) SessionOutputs(ctx context.Context, sessionID string) ([]types.CameraOutput, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT camera_id, path, COALESCE(error, '') FROM camera_outputs
		WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.CameraOutput, error) {
		var (
			c   types.CameraOutput
			msg string
		)
		if err := row.Scan(&c.CameraID, &c.Path, &msg); err != nil {
			return c, err
		}
		if msg != "" {
			c.Err = errors.New(msg)
		}
		return c, nil
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS detection_events CASCADE;
		DROP TABLE IF EXISTS roi_exports CASCADE;
		DROP TABLE IF EXISTS clips CASCADE;
		DROP TABLE IF EXISTS camera_outputs CASCADE;
		DROP TABLE IF EXISTS recording_sessions CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
