package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/session"
)

type startRecordingInput struct {
	Basename string `json:"basename"`
}

func (a *API) startRecording(c *gin.Context) {
	var in startRecordingInput
	if err := bindOptionalJSON(c, &in); err != nil {
		fail(c, err)
		return
	}
	info, err := a.Sessions.StartSession(in.Basename)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *API) uploadChunk(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.MaxChunkBytes+1<<20)

	sessionID := c.PostForm("streamId")
	cameraID := c.PostForm("camId")
	if sessionID == "" {
		fail(c, faults.Invalid("missing form field streamId"))
		return
	}
	fh, err := c.FormFile("chunk")
	if err != nil {
		fail(c, faults.Invalid("missing chunk file: %v", err))
		return
	}
	if fh.Size > a.MaxChunkBytes {
		fail(c, faults.Invalid("chunk of %d bytes exceeds the %d byte limit", fh.Size, a.MaxChunkBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, fmt.Errorf("open chunk: %w", err))
		return
	}
	chunk, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		fail(c, fmt.Errorf("read chunk: %w", err))
		return
	}

	if err := a.Sessions.PushChunk(sessionID, cameraID, chunk); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "chunk received for cam " + cameraID})
}

type stopRecordingInput struct {
	SessionID string `json:"session_id" binding:"required"`
}

type stopRecordingOutput struct {
	Status  string            `json:"status"`
	Outputs []string          `json:"outputs"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (a *API) stopRecording(c *gin.Context) {
	var in stopRecordingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, faults.Invalid("%v", err))
		return
	}
	rec, err := a.Sessions.StopSession(in.SessionID)
	if rec == nil {
		fail(c, err)
		return
	}
	a.Catalog.Session(c.Request.Context(), rec)

	out := stopRecordingOutput{Status: "stopped", Outputs: rec.Paths()}
	for _, cam := range rec.Cameras {
		if cam.Err == nil {
			continue
		}
		if out.Errors == nil {
			out.Errors = make(map[string]string)
		}
		out.Errors[cam.CameraID] = cam.Err.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) listSessions(c *gin.Context) {
	live := a.Sessions.Sessions()
	if live == nil {
		live = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": live})
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return faults.Invalid("%v", err)
	}
	return nil
}
