package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/camrig/internal/faults"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWriteChunkPreservesOrder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.bin")
	bin := script(t, `cat > "$1"`)

	h, err := Start(context.Background(), Spec{Binary: bin, Args: []string{out}, Stdin: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, chunk := range []string{"AAA", "BBBB", "C"} {
		if err := h.WriteChunk([]byte(chunk)); err != nil {
			t.Fatalf("WriteChunk(%q): %v", chunk, err)
		}
	}
	res, err := h.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}

	got, _ := os.ReadFile(out)
	if string(got) != "AAABBBBC" {
		t.Errorf("output = %q, want %q", got, "AAABBBBC")
	}
}

func TestWriteFrameShapeMismatch(t *testing.T) {
	bin := script(t, `cat > /dev/null`)
	shape := &FrameShape{Width: 4, Height: 2, PixelFormat: "rgb24", BytesPerPixel: 3, FrameRate: 30}

	h, err := Start(context.Background(), Spec{Binary: bin, Stdin: true, Frame: shape})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Finish()

	if err := h.WriteFrame(make([]byte, shape.FrameSize()-1)); !errors.Is(err, faults.ErrShapeMismatch) {
		t.Errorf("short frame: got %v, want ErrShapeMismatch", err)
	}
	if err := h.WriteFrame(make([]byte, shape.FrameSize())); err != nil {
		t.Errorf("exact frame: %v", err)
	}
	if h.FramesWritten() != 1 {
		t.Errorf("FramesWritten = %d, want 1", h.FramesWritten())
	}
}

func TestWriteFrameWithoutShape(t *testing.T) {
	bin := script(t, `cat > /dev/null`)
	h, err := Start(context.Background(), Spec{Binary: bin, Stdin: true})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Finish()

	if err := h.WriteFrame([]byte{1, 2, 3}); !errors.Is(err, faults.ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
}

func TestWriteAfterExitIsPipeClosed(t *testing.T) {
	bin := script(t, `exit 0`)
	h, err := Start(context.Background(), Spec{Binary: bin, Stdin: true})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Finish()

	// Keep writing until the dead reader surfaces as EPIPE.
	chunk := bytes.Repeat([]byte{0}, 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	var werr error
	for time.Now().Before(deadline) {
		if werr = h.WriteChunk(chunk); werr != nil {
			break
		}
	}
	if !errors.Is(werr, faults.ErrPipeClosed) || !errors.Is(werr, faults.ErrPipeFault) {
		t.Fatalf("got %v, want ErrPipeClosed", werr)
	}
	// Broken handles are not retried.
	if err := h.WriteChunk([]byte("x")); !errors.Is(err, faults.ErrPipeClosed) {
		t.Errorf("second write: got %v", err)
	}
}

func TestWriteAfterFinish(t *testing.T) {
	bin := script(t, `cat > /dev/null`)
	h, err := Start(context.Background(), Spec{Binary: bin, Stdin: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := h.WriteChunk([]byte("late")); !errors.Is(err, faults.ErrPipeClosed) {
		t.Errorf("got %v, want ErrPipeClosed", err)
	}
}

func TestFinishReportsDiagnostics(t *testing.T) {
	bin := script(t, `cat > /dev/null
echo "line one" >&2
echo "Invalid data found when processing input" >&2
exit 3`)

	h, err := Start(context.Background(), Spec{Name: "encoder", Binary: bin, Stdin: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.Finish()

	var pe *faults.ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want *faults.ProcessError", err)
	}
	if !errors.Is(err, faults.ErrProcessFailure) {
		t.Error("process error should match ErrProcessFailure")
	}
	if pe.ExitCode != 3 || res.ExitCode != 3 {
		t.Errorf("exit code = %d / %d, want 3", pe.ExitCode, res.ExitCode)
	}
	if !strings.HasSuffix(pe.Diagnostics, "Invalid data found when processing input") {
		t.Errorf("diagnostics = %q", pe.Diagnostics)
	}

	// Second call returns the cached outcome.
	res2, err2 := h.Finish()
	if res2 != res || err2 != err {
		t.Errorf("Finish is not idempotent: %+v %v", res2, err2)
	}
}

func TestDiagnosticsAreCapped(t *testing.T) {
	bin := script(t, `i=0
while [ $i -lt 200 ]; do echo "noise line $i" >&2; i=$((i+1)); done
echo "final" >&2
exit 1`)

	_, err := Run(context.Background(), Spec{Binary: bin, DiagnosticsBytes: 64})
	diag := faults.Diagnostics(err)
	if len(diag) > 64 {
		t.Errorf("diagnostics not capped: %d bytes", len(diag))
	}
	if !strings.HasSuffix(diag, "final") {
		t.Errorf("tail should keep newest output, got %q", diag)
	}
}

func TestReadFrame(t *testing.T) {
	bin := script(t, `printf 'abcdefgh'
printf 'xyz'`)
	shape := &FrameShape{Width: 2, Height: 1, BytesPerPixel: 4}

	h, err := Start(context.Background(), Spec{Binary: bin, Stdout: true, Frame: shape})
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, shape.FrameSize())
	if err := h.ReadFrame(buf); err != nil || string(buf) != "abcdefgh" {
		t.Fatalf("first frame = %q, %v", buf, err)
	}
	if err := h.ReadFrame(buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("partial frame: got %v, want io.ErrUnexpectedEOF", err)
	}
	if err := h.ReadFrame(buf); !errors.Is(err, io.EOF) {
		t.Errorf("end of stream: got %v, want io.EOF", err)
	}
	if _, err := h.Finish(); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

func TestKillThenFinish(t *testing.T) {
	bin := script(t, `exec sleep 30`)
	h, err := Start(context.Background(), Spec{Binary: bin})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := h.Finish(); !errors.Is(err, faults.ErrProcessFailure) {
		t.Errorf("killed process should report a failure, got %v", err)
	}
}

func TestContextCancelInterrupts(t *testing.T) {
	bin := script(t, `trap 'echo interrupted >&2; exit 0' INT
while :; do sleep 0.05; done`)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := Start(ctx, Spec{Binary: bin, WaitDelay: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		h.Finish()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped after cancellation")
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(context.Background(), Spec{Binary: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, faults.ErrProcessFailure) {
		t.Errorf("got %v, want ErrProcessFailure", err)
	}
	if _, err := Start(context.Background(), Spec{}); !errors.Is(err, faults.ErrInvalidInput) {
		t.Errorf("empty binary: got %v", err)
	}
}
