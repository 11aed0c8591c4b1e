package types

import "time"

// DetectionEvent is one frame that met the detection threshold.
// Timestamp is frame_index / frame_rate in seconds.
type DetectionEvent struct {
	Timestamp float64
	Label     string
}

// CameraOutput is the finalized recording of one camera in a session.
type CameraOutput struct {
	CameraID string
	Path     string
	Err      error
}

// SessionRecord summarizes a recording session for the catalog.
type SessionRecord struct {
	ID        string
	Name      string
	Dir       string
	Label     string
	StartedAt time.Time
	StoppedAt time.Time
	Cameras   []CameraOutput
}

// Clip is one cut segment written to disk.
type Clip struct {
	Index int
	Start float64
	End   float64
	Path  string
	Err   error
}

// RegionExport is one ROI video produced by an export job.
type RegionExport struct {
	Label  string
	Path   string
	Width  int
	Height int
	Frames int
	Err    error
}

// Paths lists the output file of every camera, in arrival order.
func (r *SessionRecord) Paths() []string {
	paths := make([]string, 0, len(r.Cameras))
	for _, c := range r.Cameras {
		paths = append(paths, c.Path)
	}
	return paths
}
