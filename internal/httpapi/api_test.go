package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/segment"
	"github.com/andresmejia3/camrig/internal/session"
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

const fakeFFprobe = `#!/bin/sh
for a in "$@"; do last="$a"; done
exec cat "$last.json"
`

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	api     *API
	handler http.Handler
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	bin := t.TempDir()
	tools := ffmpeg.Tools{
		FFmpeg:  filepath.Join(bin, "ffmpeg"),
		FFprobe: filepath.Join(bin, "ffprobe"),
	}
	if err := os.WriteFile(tools.FFmpeg, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tools.FFprobe, []byte(fakeFFprobe), 0o755); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	mgr := session.NewManager(session.Config{Root: filepath.Join(root, "recordings"), Tools: tools})
	t.Cleanup(func() { mgr.Close(context.Background()) })

	api := &API{
		Sessions: mgr,
		Exporter: &pipeline.Exporter{Tools: tools},
		Detector: &pipeline.Detector{Tools: tools, ResultsDir: filepath.Join(root, "results")},
		Cutter:   &segment.Cutter{Tools: tools, MaxParallel: 2},
	}
	return &fixture{api: api, handler: api.Handler(), root: root}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return f.do(t, req)
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %q", w.Body.String())
		}
	}
	return w, out
}

func chunkRequest(t *testing.T, sessionID, camID string, chunk []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("streamId", sessionID)
	mw.WriteField("camId", camID)
	if chunk != nil {
		fw, err := mw.CreateFormFile("chunk", "blob.webm")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(chunk)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload-chunk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRecordingRoundTrip(t *testing.T) {
	f := newFixture(t)

	w, out := f.postJSON(t, "/start-recording", map[string]string{"basename": "trial1"})
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %v", w.Code, out)
	}
	id, _ := out["session_id"].(string)
	name, _ := out["session_name"].(string)
	if id == "" || !strings.HasSuffix(name, "_trial1") {
		t.Fatalf("start output = %v", out)
	}

	for _, chunk := range []string{"AAAA", "BB", "CCCCCC"} {
		w, out := f.do(t, chunkRequest(t, id, "1", []byte(chunk)))
		if w.Code != http.StatusOK || out["status"] != "chunk received for cam 1" {
			t.Fatalf("upload: %d %v", w.Code, out)
		}
	}

	w, out = f.do(t, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if w.Code != http.StatusOK || len(out["sessions"].([]any)) != 1 {
		t.Errorf("sessions: %d %v", w.Code, out)
	}

	w, out = f.postJSON(t, "/stop-recording", map[string]string{"session_id": id})
	if w.Code != http.StatusOK || out["status"] != "stopped" {
		t.Fatalf("stop: %d %v", w.Code, out)
	}
	outputs := out["outputs"].([]any)
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v", outputs)
	}
	path := outputs[0].(string)
	if filepath.Base(path) != name+"_cam1.mp4" {
		t.Errorf("output = %s", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "AAAABBCCCCCC" {
		t.Errorf("output bytes = %q", data)
	}

	w, _ = f.postJSON(t, "/stop-recording", map[string]string{"session_id": id})
	if w.Code != http.StatusNotFound {
		t.Errorf("second stop = %d, want 404", w.Code)
	}
}

func TestUploadChunkErrors(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, chunkRequest(t, "missing", "1", []byte("x")))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", w.Code)
	}

	_, out := f.postJSON(t, "/start-recording", map[string]string{})
	id := out["session_id"].(string)

	w, _ = f.do(t, chunkRequest(t, id, "1", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file = %d, want 400", w.Code)
	}
	w, _ = f.do(t, chunkRequest(t, id, "../x", []byte("x")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad camera id = %d, want 400", w.Code)
	}

	f.api.MaxChunkBytes = 2
	w, _ = f.do(t, chunkRequest(t, id, "1", []byte("too big")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized chunk = %d, want 400", w.Code)
	}
}

func TestStartRecordingWithoutBody(t *testing.T) {
	f := newFixture(t)
	w, out := f.do(t, httptest.NewRequest(http.MethodPost, "/start-recording", nil))
	if w.Code != http.StatusOK || out["session_id"] == "" {
		t.Errorf("start without body: %d %v", w.Code, out)
	}
}

func TestCutVideo(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "trial_cam1.mp4")
	os.WriteFile(src, []byte("video"), 0o644)

	w, out := f.postJSON(t, "/cut-video", map[string]any{
		"video_path": src,
		"segments":   []map[string]float64{{"start": 10, "end": 12.5}},
	})
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("cut: %d %v", w.Code, out)
	}
	outputs := out["outputs"].([]any)
	if len(outputs) != 1 || filepath.Base(outputs[0].(string)) != "trial_cam1_clip_01.mp4" {
		t.Errorf("outputs = %v", outputs)
	}

	w, out = f.postJSON(t, "/cut-video", map[string]any{
		"video_path": src,
		"segments":   []map[string]float64{{"start": 5, "end": 5}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero-length segment = %d %v, want 400", w.Code, out)
	}
}

func writeSource(t *testing.T, dir, name string, width, height int, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	os.WriteFile(path, []byte("video"), 0o644)
	os.WriteFile(path+".raw", bytes.Join(frames, nil), 0o644)
	meta := fmt.Sprintf(`{"streams":[{"codec_name":"h264","width":%d,"height":%d,"r_frame_rate":"30/1","nb_frames":"%d"}],"format":{"duration":"1"}}`,
		width, height, len(frames))
	os.WriteFile(path+".json", []byte(meta), 0o644)
	return path
}

func solid(width, height int, v byte) []byte {
	return bytes.Repeat([]byte{v}, width*height*3)
}

func TestExportRegions(t *testing.T) {
	f := newFixture(t)
	src := writeSource(t, t.TempDir(), "door.mp4", 8, 6, solid(8, 6, 200), solid(8, 6, 100))

	w, out := f.postJSON(t, "/export-roi-videos", map[string]any{
		"video_path": src,
		"rois": []map[string]any{
			{"label": "full", "points": [][2]float64{{0, 0}, {7, 0}, {7, 5}, {0, 5}}},
			{"points": [][2]float64{{2, 2}, {4, 2}, {4, 4}, {2, 4}}},
		},
	})
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("export: %d %v", w.Code, out)
	}
	outputs := out["outputs"].([]any)
	if len(outputs) != 2 {
		t.Fatalf("outputs = %v", outputs)
	}
	second := outputs[1].(map[string]any)
	if second["label"] != "roi2" || second["width"].(float64) != 3 || second["frames"].(float64) != 2 {
		t.Errorf("second region = %v", second)
	}
	data, err := os.ReadFile(second["path"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2*3*3*3 {
		t.Errorf("encoded %d bytes, want two 3x3 frames", len(data))
	}

	w, _ = f.postJSON(t, "/export-roi-videos", map[string]any{"video_path": src})
	if w.Code != http.StatusBadRequest {
		t.Errorf("no regions = %d, want 400", w.Code)
	}
}

func TestDetectColor(t *testing.T) {
	f := newFixture(t)
	src := writeSource(t, t.TempDir(), "clip.mp4", 4, 4, solid(4, 4, 0), solid(4, 4, 255))

	w, out := f.postJSON(t, "/detect-color", map[string]any{
		"video_path": src,
		"params":     map[string]any{"v_high": 80},
	})
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("detect: %d %v", w.Code, out)
	}
	sources := out["sources"].([]any)
	first := sources[0].(map[string]any)
	if first["roi_name"] != "clip_0" || first["events"].(float64) != 1 {
		t.Errorf("source = %v", first)
	}
	csv, err := os.ReadFile(first["detections"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if string(csv) != "timestamp_sec,roi_name\n0.000,clip_0\n" {
		t.Errorf("event log = %q", csv)
	}

	w, _ = f.postJSON(t, "/detect-color", map[string]any{"videos": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("no sources = %d, want 400", w.Code)
	}
	w, _ = f.postJSON(t, "/detect-color", map[string]any{
		"video_path": src,
		"params":     map[string]any{"v_low": 90, "v_high": 10},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted range = %d, want 400", w.Code)
	}
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w, out := f.do(t, req)
	if w.Code != http.StatusOK || out["status"] != "healthy" {
		t.Fatalf("health: %d %v", w.Code, out)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}

	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", w.Code)
	}
}
