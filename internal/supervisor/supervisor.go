// Package supervisor owns the lifecycle of one external media process:
// spawning it, feeding its stdin, reading fixed-size frames from its stdout,
// capturing the tail of its stderr and reaping it exactly once.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/camrig/internal/faults"
)

// DefaultDiagnosticsBytes is how much of a process's stderr is kept.
const DefaultDiagnosticsBytes = 4096

// DefaultWaitDelay bounds how long an interrupted process may take to
// finalize its output before it is killed.
const DefaultWaitDelay = 10 * time.Second

// FrameShape is the declared geometry of every raw frame crossing a pipe.
// It never changes for the lifetime of a handle.
type FrameShape struct {
	Width         int
	Height        int
	PixelFormat   string
	BytesPerPixel int
	FrameRate     float64
}

// FrameSize is the exact byte length of one frame.
func (s FrameShape) FrameSize() int {
	return s.Width * s.Height * s.BytesPerPixel
}

// Spec describes the process to launch.
type Spec struct {
	// Name labels the process in logs and errors. Defaults to the binary name.
	Name   string
	Binary string
	Args   []string

	// Stdin opens a write pipe to the process; Stdout opens a read pipe.
	Stdin  bool
	Stdout bool

	// Frame, when set, is enforced on WriteFrame and used by ReadFrame.
	Frame *FrameShape

	DiagnosticsBytes int
	WaitDelay        time.Duration
	Logger           *slog.Logger
}

// Result is what Finish reports once the process has been reaped.
type Result struct {
	ExitCode    int
	Diagnostics string
	Elapsed     time.Duration
}

// Handle is a running process. It is owned by one goroutine at a time;
// Finish and Kill may be called from any goroutine.
type Handle struct {
	name   string
	spec   Spec
	cmd    *exec.Cmd
	logger *slog.Logger

	mu       sync.Mutex
	stdin    io.WriteCloser
	closed   bool
	writeErr error

	stdout *bufio.Reader

	diag    *tail
	started time.Time
	written atomic.Int64

	once   sync.Once
	result Result
	err    error
}

// Start launches the process described by spec. Cancelling ctx interrupts the
// process so it can finalize, and kills it after the wait delay.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Binary == "" {
		return nil, faults.Invalid("no binary to run")
	}
	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Binary)
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := spec.DiagnosticsBytes
	if limit <= 0 {
		limit = DefaultDiagnosticsBytes
	}
	delay := spec.WaitDelay
	if delay <= 0 {
		delay = DefaultWaitDelay
	}

	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = delay

	h := &Handle{
		name:   name,
		spec:   spec,
		cmd:    cmd,
		logger: logger.With("process", name),
		diag:   newTail(limit),
	}
	cmd.Stderr = h.diag

	if spec.Stdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, faults.Wrap(faults.ErrProcessFailure, "start "+name, "stdin pipe", err)
		}
		h.stdin = w
	}
	if spec.Stdout {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return nil, faults.Wrap(faults.ErrProcessFailure, "start "+name, "stdout pipe", err)
		}
		h.stdout = bufio.NewReaderSize(r, readBufferSize(spec.Frame))
	}

	// exec closes any pipes it created when Start fails.
	if err := cmd.Start(); err != nil {
		return nil, faults.Wrap(faults.ErrProcessFailure, "start "+name, "", err)
	}
	h.started = time.Now()
	h.logger.Debug("process started", "pid", cmd.Process.Pid)
	return h, nil
}

func readBufferSize(shape *FrameShape) int {
	if shape == nil || shape.FrameSize() <= 0 {
		return 64 * 1024
	}
	return max(shape.FrameSize(), 64*1024)
}

// Run starts the process and waits for it. Used for file-to-file jobs.
func Run(ctx context.Context, spec Spec) (Result, error) {
	spec.Stdin = false
	spec.Stdout = false
	h, err := Start(ctx, spec)
	if err != nil {
		return Result{}, err
	}
	return h.Finish()
}

// Pid returns the OS process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Name is the label used in logs and errors.
func (h *Handle) Name() string { return h.name }

// FramesWritten counts successful WriteFrame calls.
func (h *Handle) FramesWritten() int64 { return h.written.Load() }

// WriteFrame writes one raw frame. The length must equal the declared frame
// size exactly; anything else is rejected before touching the pipe.
func (h *Handle) WriteFrame(frame []byte) error {
	if h.spec.Frame == nil {
		return fmt.Errorf("%w: %s has no declared frame shape", faults.ErrShapeMismatch, h.name)
	}
	if want := h.spec.Frame.FrameSize(); len(frame) != want {
		return fmt.Errorf("%w: %s expects %d bytes per frame, got %d", faults.ErrShapeMismatch, h.name, want, len(frame))
	}
	if err := h.write(frame); err != nil {
		return err
	}
	h.written.Add(1)
	return nil
}

// WriteChunk writes an arbitrary slice of a byte stream. Blocks until the
// process has accepted every byte.
func (h *Handle) WriteChunk(chunk []byte) error {
	return h.write(chunk)
}

func (h *Handle) write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin == nil {
		return faults.Wrap(faults.ErrPipeClosed, "write "+h.name, "no stdin pipe", nil)
	}
	if h.closed {
		return faults.Wrap(faults.ErrPipeClosed, "write "+h.name, "input already closed", nil)
	}
	if h.writeErr != nil {
		return h.writeErr
	}
	if _, err := h.stdin.Write(p); err != nil {
		// A partial write leaves the stream in an unknown state, so the
		// handle stays broken.
		h.writeErr = faults.Wrap(faults.ErrPipeClosed, "write "+h.name, "", err)
		h.logger.Warn("write to process failed", "error", err)
		return h.writeErr
	}
	return nil
}

// ReadFrame fills dst with the next frame from stdout. It returns io.EOF at a
// clean end of stream and io.ErrUnexpectedEOF for a trailing partial frame.
func (h *Handle) ReadFrame(dst []byte) error {
	if h.stdout == nil {
		return faults.Invalid("%s was started without a stdout pipe", h.name)
	}
	if h.spec.Frame != nil && len(dst) != h.spec.Frame.FrameSize() {
		return fmt.Errorf("%w: read buffer of %d bytes for %d byte frames", faults.ErrShapeMismatch, len(dst), h.spec.Frame.FrameSize())
	}
	_, err := io.ReadFull(h.stdout, dst)
	return err
}

// ReadAll reads stdout to the end of stream, for processes that print a
// single report rather than frames.
func (h *Handle) ReadAll() ([]byte, error) {
	if h.stdout == nil {
		return nil, faults.Invalid("%s was started without a stdout pipe", h.name)
	}
	return io.ReadAll(h.stdout)
}

// CloseInput signals end of input. Finish calls it too.
func (h *Handle) CloseInput() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil || h.closed {
		return nil
	}
	h.closed = true
	return h.stdin.Close()
}

// Kill stops the process immediately. Finish must still be called to reap it.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Finish closes stdin, drains stdout and waits for the process to exit.
// Only the first call does work; later calls return the cached outcome.
func (h *Handle) Finish() (Result, error) {
	h.once.Do(func() {
		h.result, h.err = h.finish()
	})
	return h.result, h.err
}

func (h *Handle) finish() (Result, error) {
	if err := h.CloseInput(); err != nil && !errors.Is(err, os.ErrClosed) {
		h.logger.Debug("closing stdin", "error", err)
	}
	if h.stdout != nil {
		// Unread frames would otherwise block the process on a full pipe.
		_, _ = io.Copy(io.Discard, h.stdout)
	}

	waitErr := h.cmd.Wait()
	res := Result{
		ExitCode:    -1,
		Diagnostics: h.diag.String(),
		Elapsed:     time.Since(h.started),
	}
	if h.cmd.ProcessState != nil {
		res.ExitCode = h.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		h.logger.Debug("process exited", "pid", h.Pid(), "elapsed", res.Elapsed.Round(time.Millisecond))
		return res, nil
	case errors.As(waitErr, &exitErr):
		h.logger.Warn("process failed", "pid", h.Pid(), "exit_code", res.ExitCode)
		return res, &faults.ProcessError{Name: h.name, ExitCode: res.ExitCode, Diagnostics: res.Diagnostics}
	default:
		if errors.Is(waitErr, exec.ErrWaitDelay) && res.ExitCode == 0 {
			// Exited cleanly but a grandchild kept the stderr pipe open.
			return res, nil
		}
		return res, faults.Wrap(faults.ErrProcessFailure, "wait "+h.name, res.Diagnostics, waitErr)
	}
}
