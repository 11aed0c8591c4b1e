package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultCoarseSeekMargin is how far before the requested start the input
// seek lands; the remainder is covered by a decode-accurate output seek.
const DefaultCoarseSeekMargin = 2.0

// evenPadFilter pads odd frame dimensions up to the next even value, which
// libx264 with yuv420p requires. Content is not scaled.
const evenPadFilter = "pad=width=ceil(iw/2)*2:height=ceil(ih/2)*2"

// Tools names the binaries used for encoding and probing.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Preset  string
	// DiagnosticsBytes caps the stderr kept from ffprobe.
	DiagnosticsBytes int
}

// DefaultTools resolves both binaries from PATH.
func DefaultTools() Tools {
	return Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Preset: "veryfast"}
}

func (t Tools) ffmpeg() string {
	if s := strings.TrimSpace(t.FFmpeg); s != "" {
		return s
	}
	return "ffmpeg"
}

func (t Tools) ffprobe() string {
	if s := strings.TrimSpace(t.FFprobe); s != "" {
		return s
	}
	return "ffprobe"
}

func (t Tools) preset() string {
	if s := strings.TrimSpace(t.Preset); s != "" {
		return s
	}
	return "veryfast"
}

// Binary returns the ffmpeg executable.
func (t Tools) Binary() string { return t.ffmpeg() }

// RawDecodeArgs decodes a file into fixed-size rawvideo frames on stdout.
// The pixel format is forced so every frame has width*height*bpp bytes.
// Frames keep the coded geometry ffprobe reports (no autorotation) and are
// emitted at a constant rate, so frame i sits at i/rate seconds.
func (t Tools) RawDecodeArgs(src, pixFmt, rate string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-noautorotate",
		"-i", src,
		"-an", "-sn",
		"-r", rateArg(rate), "-fps_mode", "cfr",
		"-f", "rawvideo", "-pix_fmt", pixFmt,
		"pipe:1",
	}
}

// rateArg passes a probed rate through verbatim, keeping rationals such as
// 30000/1001 exact.
func rateArg(rate string) string {
	if r := strings.TrimSpace(rate); r != "" {
		return r
	}
	return strconv.FormatFloat(DefaultFrameRate, 'f', -1, 64)
}

// RawEncodeParams describes a rawvideo-on-stdin encode.
type RawEncodeParams struct {
	Width, Height int
	PixelFormat   string
	// Rate is the input frame rate, as in VideoInfo.Rate.
	Rate   string
	Output string
}

// RawEncodeArgs encodes fixed-size raw frames from stdin to an H.264 file,
// padding odd dimensions to even ones.
func (t Tools) RawEncodeArgs(p RawEncodeParams) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", p.PixelFormat,
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", rateArg(p.Rate),
		"-i", "pipe:0",
		"-vf", evenPadFilter,
		"-an",
		"-c:v", "libx264", "-preset", t.preset(),
		"-pix_fmt", "yuv420p",
		p.Output,
	}
}

// StreamTranscodeArgs re-encodes a container streamed on stdin (for example
// webm chunks from a browser recorder) into an H.264 file.
func (t Tools) StreamTranscodeArgs(inputFormat, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if inputFormat != "" {
		args = append(args, "-f", inputFormat)
	}
	return append(args,
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", t.preset(),
		output,
	)
}

// CutParams is a time range extraction from src into out.
type CutParams struct {
	Source      string
	Start, End  float64
	Output      string
	CoarseSlack float64
}

// SeekPlan splits a start offset into a coarse input seek and a fine output
// seek. coarse is never negative; coarse+fine == start.
func SeekPlan(start, slack float64) (coarse, fine float64) {
	if slack <= 0 {
		slack = DefaultCoarseSeekMargin
	}
	coarse = max(0, start-slack)
	return coarse, start - coarse
}

// CutArgs re-encodes [Start, End) using a two-stage seek. The range is
// re-encoded instead of stream-copied so the boundaries are frame accurate.
func (t Tools) CutArgs(p CutParams) []string {
	coarse, fine := SeekPlan(p.Start, p.CoarseSlack)
	duration := p.End - p.Start
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", fmt.Sprintf("%.3f", coarse),
		"-i", p.Source,
		"-ss", fmt.Sprintf("%.3f", fine),
		"-t", fmt.Sprintf("%.3f", duration),
		"-c:v", "libx264", "-preset", t.preset(),
		"-c:a", "aac",
		"-movflags", "+faststart",
		p.Output,
	}
}
