package ffmpeg

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/andresmejia3/camrig/internal/faults"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestProbeParsesFirstVideoStream(t *testing.T) {
	dir := t.TempDir()
	probe := writeScript(t, dir, "ffprobe", `cat <<'JSON'
{"streams":[{"codec_name":"h264","width":640,"height":360,"r_frame_rate":"30/1","avg_frame_rate":"25/1","nb_frames":"250"}],
 "format":{"duration":"10.000000"}}
JSON
`)

	info, err := Tools{FFprobe: probe}.Probe(context.Background(), "input.mp4")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.Width != 640 || info.Height != 360 {
		t.Errorf("geometry = %dx%d", info.Width, info.Height)
	}
	if info.FrameRate != 25 || info.Rate != "25/1" {
		t.Errorf("expected avg_frame_rate to win, got %v (%q)", info.FrameRate, info.Rate)
	}
	if info.Frames != 250 || info.Duration != 10 || info.Codec != "h264" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestProbeFallsBackToDefaultFrameRate(t *testing.T) {
	dir := t.TempDir()
	probe := writeScript(t, dir, "ffprobe", `echo '{"streams":[{"width":4,"height":2,"r_frame_rate":"0/0","avg_frame_rate":"0/0","nb_frames":"N/A"}],"format":{}}'
`)

	info, err := Tools{FFprobe: probe}.Probe(context.Background(), "stream.webm")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.FrameRate != DefaultFrameRate || info.Rate != "30" {
		t.Errorf("FrameRate = %v (%q), want %v", info.FrameRate, info.Rate, DefaultFrameRate)
	}
	if info.Frames != 0 {
		t.Errorf("Frames = %d, want 0 for unknown count", info.Frames)
	}
}

func TestProbeFailures(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"non-zero exit", "echo 'moov atom not found' >&2\nexit 1\n"},
		{"no streams", "echo '{\"streams\":[]}'\n"},
		{"garbage", "echo 'not json'\n"},
		{"zero geometry", "echo '{\"streams\":[{\"width\":0,\"height\":0}]}'\n"},
	}
	for i, tt := range tests {
		i, tt := i, tt
		t.Run(tt.name, func(t *testing.T) {
			probe := writeScript(t, dir, "ffprobe"+string(rune('a'+i)), tt.body)
			if _, err := (Tools{FFprobe: probe}).Probe(context.Background(), "x.mp4"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProbeKeepsRationalRate(t *testing.T) {
	probe := writeScript(t, t.TempDir(), "ffprobe", `echo '{"streams":[{"width":1920,"height":1080,"r_frame_rate":"30000/1001","avg_frame_rate":"0/0"}],"format":{}}'
`)
	info, err := Tools{FFprobe: probe}.Probe(context.Background(), "ntsc.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if info.Rate != "30000/1001" {
		t.Errorf("Rate = %q, want the r_frame_rate rational", info.Rate)
	}
	if math.Abs(info.FrameRate-29.97002997) > 1e-6 {
		t.Errorf("FrameRate = %v", info.FrameRate)
	}
}

func TestProbeCapsDiagnostics(t *testing.T) {
	probe := writeScript(t, t.TempDir(), "ffprobe", `i=0
while [ $i -lt 200 ]; do echo "line $i: invalid data found when processing input" >&2; i=$((i+1)); done
exit 1
`)
	_, err := Tools{FFprobe: probe, DiagnosticsBytes: 128}.Probe(context.Background(), "x.mp4")
	if !errors.Is(err, faults.ErrProcessFailure) {
		t.Fatalf("got %v, want ErrProcessFailure", err)
	}
	d := faults.Diagnostics(err)
	if len(d) == 0 || len(d) > 128 {
		t.Errorf("diagnostics is %d bytes, want 1..128", len(d))
	}
	if !strings.Contains(d, "line 199") {
		t.Errorf("diagnostics should end with the last line: %q", d)
	}
}

func TestSourceID(t *testing.T) {
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := SourceID(tmp.Name())
	if err != nil || id == "" {
		t.Fatalf("Failed to generate ID: %v", err)
	}

	id2, _ := SourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := SourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := SourceID(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error for missing file")
	}
}
