package ffmpeg

import (
	"math"
	"slices"
	"strings"
	"testing"
)

func TestSeekPlan(t *testing.T) {
	tests := []struct {
		name         string
		start        float64
		slack        float64
		coarse, fine float64
	}{
		{"start beyond margin", 10.0, 2.0, 8.0, 2.0},
		{"start inside margin", 1.25, 2.0, 0.0, 1.25},
		{"zero start", 0, 2.0, 0, 0},
		{"default margin", 5.0, 0, 3.0, 2.0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			coarse, fine := SeekPlan(tt.start, tt.slack)
			if math.Abs(coarse-tt.coarse) > 1e-9 || math.Abs(fine-tt.fine) > 1e-9 {
				t.Fatalf("SeekPlan(%v, %v) = (%v, %v), want (%v, %v)", tt.start, tt.slack, coarse, fine, tt.coarse, tt.fine)
			}
		})
	}
}

func TestCutArgsTwoStageSeekAndReencode(t *testing.T) {
	args := DefaultTools().CutArgs(CutParams{Source: "in.mp4", Start: 10.0, End: 12.5, Output: "out.mp4"})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-ss 8.000 -i in.mp4 -ss 2.000 -t 2.500") {
		t.Fatalf("expected coarse seek before input and fine seek after: %s", joined)
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Fatalf("cut must re-encode video: %s", joined)
	}
	if strings.Contains(joined, "-c:v copy") {
		t.Fatalf("cut must not stream copy: %s", joined)
	}
	if args[len(args)-1] != "out.mp4" {
		t.Fatalf("output should be last argument, got %q", args[len(args)-1])
	}
}

func TestRawEncodeArgsPadsAndDeclaresGeometry(t *testing.T) {
	tools := Tools{Preset: "ultrafast"}
	args := tools.RawEncodeArgs(RawEncodeParams{Width: 51, Height: 49, PixelFormat: "rgb24", Rate: "30000/1001", Output: "/tmp/a.mp4"})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-f rawvideo -pix_fmt rgb24",
		"-s 51x49",
		"-r 30000/1001",
		"-i pipe:0",
		"-vf " + evenPadFilter,
		"-preset ultrafast",
		"-pix_fmt yuv420p",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %s", want, joined)
		}
	}
}

func TestRawDecodeArgsKeepsCodedGeometryAndRate(t *testing.T) {
	args := DefaultTools().RawDecodeArgs("/in/phone.mp4", "rgb24", "24000/1001")
	joined := strings.Join(args, " ")

	noRotate, input := slices.Index(args, "-noautorotate"), slices.Index(args, "-i")
	if noRotate < 0 || noRotate > input {
		t.Errorf("-noautorotate must precede the input: %s", joined)
	}
	for _, want := range []string{"-r 24000/1001 -fps_mode cfr", "-f rawvideo -pix_fmt rgb24", "pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %s", want, joined)
		}
	}

	if got := strings.Join(DefaultTools().RawDecodeArgs("a.mp4", "rgb24", ""), " "); !strings.Contains(got, "-r 30 ") {
		t.Errorf("empty rate should fall back to the default: %s", got)
	}
}

func TestStreamTranscodeArgs(t *testing.T) {
	args := DefaultTools().StreamTranscodeArgs("webm", "/rec/s_cam1.mp4")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f webm -i pipe:0") {
		t.Fatalf("expected declared input container: %s", joined)
	}

	args = DefaultTools().StreamTranscodeArgs("", "/rec/s_cam1.mp4")
	if strings.Contains(strings.Join(args, " "), "-f ") {
		t.Fatalf("empty input format should let ffmpeg probe: %v", args)
	}
}

func TestToolsFallbacks(t *testing.T) {
	var tools Tools
	if tools.Binary() != "ffmpeg" || tools.ffprobe() != "ffprobe" || tools.preset() != "veryfast" {
		t.Fatalf("unexpected zero-value fallbacks: %q %q %q", tools.Binary(), tools.ffprobe(), tools.preset())
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"25", 25},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
