package ffmpeg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/camrig/internal/supervisor"
)

// DefaultFrameRate is assumed when the container does not report one.
const DefaultFrameRate = 30.0

// VideoInfo is the subset of ffprobe output the pipelines need.
type VideoInfo struct {
	Width     int
	Height    int
	FrameRate float64
	// Rate is FrameRate as ffprobe reported it ("30000/1001"), handed to
	// the decoder and encoders unchanged.
	Rate string
	// Frames is 0 when the container does not carry a frame count.
	Frames   int
	Duration float64
	Codec    string
}

type probeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream's geometry, frame rate and frame count.
// It only uses container metadata; it never counts packets, so streamed
// sources without a frame count come back with Frames == 0.
func (t Tools) Probe(ctx context.Context, path string) (VideoInfo, error) {
	h, err := supervisor.Start(ctx, supervisor.Spec{
		Name:   "ffprobe",
		Binary: t.ffprobe(),
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
			"-of", "json",
			path,
		},
		Stdout:           true,
		DiagnosticsBytes: t.DiagnosticsBytes,
	})
	if err != nil {
		return VideoInfo{}, err
	}
	out, readErr := h.ReadAll()
	if _, err := h.Finish(); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	if readErr != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: read output: %w", path, readErr)
	}

	var res probeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: no video stream", path)
	}

	s := res.Streams[0]
	info := VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
	}
	if info.Width <= 0 || info.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: invalid geometry %dx%d", path, info.Width, info.Height)
	}
	for _, r := range []string{s.AvgFrameRate, s.RFrameRate} {
		if fps := parseFrameRate(r); fps > 0 {
			info.Rate, info.FrameRate = r, fps
			break
		}
	}
	if info.FrameRate <= 0 {
		info.Rate, info.FrameRate = rateArg(""), DefaultFrameRate
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.Frames = n
	}
	if d, err := strconv.ParseFloat(res.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	return info, nil
}

func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}

// SourceID creates a deterministic hash for a video file
// based on its path, size, and modification time.
func SourceID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
