package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/andresmejia3/camrig/internal/ffmpeg"
)

// fakeFFmpeg decodes by printing "<input>.raw", encodes by copying stdin to
// the last argument, and otherwise records its arguments there.
const fakeFFmpeg = `#!/bin/sh
last=""; in=""; prev=""; mode=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  case "$a" in
    pipe:1) mode=decode ;;
    pipe:0) mode=encode ;;
  esac
  prev="$a"; last="$a"
done
case "$mode" in
  decode) exec cat "$in.raw" ;;
  encode) exec cat > "$last" ;;
  *) echo "$@" > "$last" ;;
esac
`

// fakeFFprobe prints "<input>.json".
const fakeFFprobe = `#!/bin/sh
for a in "$@"; do last="$a"; done
exec cat "$last.json"
`

func fakeTools(t *testing.T) ffmpeg.Tools {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	dir := t.TempDir()
	tools := ffmpeg.Tools{
		FFmpeg:  filepath.Join(dir, "ffmpeg"),
		FFprobe: filepath.Join(dir, "ffprobe"),
		Preset:  "veryfast",
	}
	if err := os.WriteFile(tools.FFmpeg, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tools.FFprobe, []byte(fakeFFprobe), 0o755); err != nil {
		t.Fatal(err)
	}
	return tools
}

// writeSource creates a placeholder video whose fake decode yields frames.
func writeSource(t *testing.T, dir, name string, width, height int, fps string, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	var raw []byte
	for _, f := range frames {
		raw = append(raw, f...)
	}
	if err := os.WriteFile(path+".raw", raw, 0o644); err != nil {
		t.Fatal(err)
	}
	meta := fmt.Sprintf(`{"streams":[{"codec_name":"h264","width":%d,"height":%d,"r_frame_rate":"%s","avg_frame_rate":"%s","nb_frames":"%d"}],"format":{"duration":"1.0"}}`,
		width, height, fps, fps, len(frames))
	if err := os.WriteFile(path+".json", []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func solidFrame(width, height int, r, g, b byte) []byte {
	f := make([]byte, width*height*3)
	for i := 0; i < len(f); i += 3 {
		f[i], f[i+1], f[i+2] = r, g, b
	}
	return f
}
