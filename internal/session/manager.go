// Package session keeps the live recording sessions. Each session owns one
// encoder process per camera, started on that camera's first chunk and
// finalized when the session stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/supervisor"
	"github.com/andresmejia3/camrig/internal/types"
)

// TimestampLayout names session directories.
const TimestampLayout = "20060102_150405"

const maxDirAttempts = 1000

type Config struct {
	Root             string
	Tools            ffmpeg.Tools
	ChunkFormat      string
	OutputExt        string
	DiagnosticsBytes int
	Logger           *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Manager is the session registry. Sessions live in an arena of slots
// addressed through an id index; mu guards the arena and every session's
// camera table.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// Encoders outlive the request that started them, so they run under
	// the manager's context rather than the caller's.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	slots []*slot
	index map[string]int
	free  []int
}

type slot struct {
	id      string
	name    string
	label   string
	dir     string
	started time.Time
	closing bool

	cameras  []*cameraStream
	camIndex map[string]int
}

// Info identifies a started session.
type Info struct {
	ID   string `json:"session_id"`
	Name string `json:"session_name"`
	Dir  string `json:"session_dir"`
}

// Summary is a point-in-time view of a live session.
type Summary struct {
	Info
	Label     string          `json:"label,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Closing   bool            `json:"closing"`
	Cameras   []CameraSummary `json:"cameras"`
}

type CameraSummary struct {
	ID     string `json:"camera_id"`
	Path   string `json:"path"`
	State  State  `json:"-"`
	Status string `json:"state"`
	Chunks int64  `json:"chunks"`
	Bytes  int64  `json:"bytes"`
}

func NewManager(cfg Config) *Manager {
	if cfg.ChunkFormat == "" {
		cfg.ChunkFormat = "webm"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		index:  make(map[string]int),
	}
}

// StartSession creates the session directory and registers a new session.
func (m *Manager) StartSession(label string) (Info, error) {
	label = strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
	if strings.ContainsAny(label, "/\\\x00") || label == "." || label == ".." {
		return Info{}, faults.Invalid("session label %q is not a valid file name", label)
	}

	now := m.cfg.Now()
	base := now.Format(TimestampLayout)
	if label != "" {
		base += "_" + label
	}
	name, dir, err := m.claimDir(base)
	if err != nil {
		return Info{}, fmt.Errorf("create session dir: %w", err)
	}

	s := &slot{
		id:       uuid.NewString(),
		name:     name,
		label:    label,
		dir:      dir,
		started:  now,
		camIndex: make(map[string]int),
	}

	m.mu.Lock()
	if n := len(m.free); n > 0 {
		i := m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[i] = s
		m.index[s.id] = i
	} else {
		m.slots = append(m.slots, s)
		m.index[s.id] = len(m.slots) - 1
	}
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", s.id, "dir", dir)
	return Info{ID: s.id, Name: name, Dir: dir}, nil
}

// claimDir creates a fresh directory for base under the root. When base is
// taken, by a session started in the same second or a previous run, a
// numeric suffix is added: base_2, base_3, ...
func (m *Manager) claimDir(base string) (name, dir string, err error) {
	if err := os.MkdirAll(m.cfg.Root, 0o755); err != nil {
		return "", "", err
	}
	for n := 1; n <= maxDirAttempts; n++ {
		name = base
		if n > 1 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		dir = filepath.Join(m.cfg.Root, name)
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return name, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("%s: %d names already taken", base, maxDirAttempts)
}

// lookup must be called with mu held.
func (m *Manager) lookup(id string) (*slot, error) {
	i, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", faults.ErrUnknownSession, id)
	}
	return m.slots[i], nil
}

// PushChunk appends bytes to a camera's stream, starting its encoder on the
// first chunk. Chunks for one camera are written in the order PushChunk is
// entered; calls block while the encoder catches up.
func (m *Manager) PushChunk(sessionID, cameraID string, chunk []byte) error {
	if err := validCameraID(cameraID); err != nil {
		return err
	}

	m.mu.Lock()
	s, err := m.lookup(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if s.closing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", faults.ErrSessionClosing, sessionID)
	}
	cam := s.camera(cameraID, m.outputPath(s, cameraID))
	m.mu.Unlock()

	cam.mu.Lock()
	defer cam.mu.Unlock()

	if cam.sealed || cam.State() >= Finalizing {
		return fmt.Errorf("%w: %q", faults.ErrSessionClosing, sessionID)
	}
	if cam.State() == NoProcess {
		proc, err := supervisor.Start(m.ctx, supervisor.Spec{
			Name:             "encoder cam" + cameraID,
			Binary:           m.cfg.Tools.Binary(),
			Args:             m.cfg.Tools.StreamTranscodeArgs(m.cfg.ChunkFormat, cam.path),
			Stdin:            true,
			DiagnosticsBytes: m.cfg.DiagnosticsBytes,
			Logger:           m.logger.With("session_id", sessionID, "camera_id", cameraID),
		})
		if err != nil {
			return err
		}
		cam.proc = proc
		cam.setState(Encoding)
		m.logger.Info("camera encoder started", "session_id", sessionID, "camera_id", cameraID, "pid", proc.Pid(), "output", cam.path)
	}

	if err := cam.proc.WriteChunk(chunk); err != nil {
		return err
	}
	cam.chunks.Add(1)
	cam.bytes.Add(int64(len(chunk)))
	return nil
}

// camera returns the stream for id, registering it on first use. Called
// with Manager.mu held.
func (s *slot) camera(id, path string) *cameraStream {
	if i, ok := s.camIndex[id]; ok {
		return s.cameras[i]
	}
	cam := &cameraStream{id: id, path: path}
	s.cameras = append(s.cameras, cam)
	s.camIndex[id] = len(s.cameras) - 1
	return cam
}

func (m *Manager) outputPath(s *slot, cameraID string) string {
	ext := strings.TrimPrefix(m.cfg.OutputExt, ".")
	if ext == "" {
		ext = "mp4"
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_cam%s.%s", s.name, cameraID, ext))
}

// StopSession finalizes every camera encoder concurrently and removes the
// session. It returns once every encoder has exited. The record lists one
// output per camera that received data; per-camera failures are carried on
// the outputs and joined into the error.
func (m *Manager) StopSession(sessionID string) (*types.SessionRecord, error) {
	m.mu.Lock()
	s, err := m.lookup(sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if s.closing {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", faults.ErrSessionClosing, sessionID)
	}
	s.closing = true
	cams := slices.Clone(s.cameras)
	m.mu.Unlock()

	outputs := make([]*types.CameraOutput, len(cams))
	var wg sync.WaitGroup
	for i, cam := range cams {
		i, cam := i, cam
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs[i] = m.finalize(sessionID, cam)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	if i, ok := m.index[sessionID]; ok {
		m.slots[i] = nil
		delete(m.index, sessionID)
		m.free = append(m.free, i)
	}
	m.mu.Unlock()

	rec := &types.SessionRecord{
		ID:        s.id,
		Name:      s.name,
		Dir:       s.dir,
		Label:     s.label,
		StartedAt: s.started,
		StoppedAt: m.cfg.Now(),
	}
	var errs []error
	for _, out := range outputs {
		if out == nil {
			continue
		}
		rec.Cameras = append(rec.Cameras, *out)
		if out.Err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", out.CameraID, out.Err))
		}
	}
	m.logger.Info("session stopped", "session_id", sessionID, "outputs", len(rec.Cameras), "failed", len(errs))
	return rec, errors.Join(errs...)
}

// finalize walks an encoding camera through Finalizing to Closed. Cameras
// that never started are sealed so a late push cannot start one.
func (m *Manager) finalize(sessionID string, cam *cameraStream) *types.CameraOutput {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	if cam.State() != Encoding {
		cam.sealed = true
		return nil
	}
	cam.setState(Finalizing)
	res, err := cam.proc.Finish()
	cam.setState(Closed)

	if err != nil {
		m.logger.Warn("camera encoder failed", "session_id", sessionID, "camera_id", cam.id, "exit_code", res.ExitCode, "error", err)
	}
	return &types.CameraOutput{CameraID: cam.id, Path: cam.path, Err: err}
}

// Sessions returns a snapshot of the live sessions in arena order.
func (m *Manager) Sessions() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Summary, 0, len(m.index))
	for _, s := range m.slots {
		if s == nil {
			continue
		}
		sum := Summary{
			Info:      Info{ID: s.id, Name: s.name, Dir: s.dir},
			Label:     s.label,
			StartedAt: s.started,
			Closing:   s.closing,
		}
		for _, c := range s.cameras {
			st := c.State()
			sum.Cameras = append(sum.Cameras, CameraSummary{
				ID:     c.id,
				Path:   c.path,
				State:  st,
				Status: st.String(),
				Chunks: c.chunks.Load(),
				Bytes:  c.bytes.Load(),
			})
		}
		out = append(out, sum)
	}
	return out
}

// Close stops every live session. If ctx ends first, the encoders are
// interrupted and Close still waits for them to be reaped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.index))
	for id := range m.index {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	errs := make([]error, len(ids))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i, id := range ids {
			i, id := i, id
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = m.StopSession(id)
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached, interrupting encoders")
		m.cancel()
		<-done
	}
	m.cancel()
	return errors.Join(errs...)
}
