// Package httpapi exposes the recording sessions and the media jobs over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/camrig/internal/catalog"
	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/segment"
	"github.com/andresmejia3/camrig/internal/session"
)

// DefaultMaxChunkBytes bounds a single uploaded chunk.
const DefaultMaxChunkBytes = 64 << 20

// API holds the components the routes dispatch to.
type API struct {
	Sessions *session.Manager
	Exporter *pipeline.Exporter
	Detector *pipeline.Detector
	Cutter   *segment.Cutter
	// Catalog may be nil when no database is configured.
	Catalog *catalog.Recorder
	// Threshold fills detection parameters the request leaves out.
	Threshold     pipeline.Threshold
	AllowOrigins  []string
	MaxChunkBytes int64
	Logger        *slog.Logger

	started time.Time
}

// Handler builds the gin engine serving every route.
func (a *API) Handler() http.Handler {
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.MaxChunkBytes <= 0 {
		a.MaxChunkBytes = DefaultMaxChunkBytes
	}
	a.started = time.Now()

	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			a.Logger.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		a.requestLogger(),
		cors.New(a.corsConfig()),
	)

	r.GET("/health", a.health)
	r.GET("/sessions", a.listSessions)

	r.POST("/start-recording", a.startRecording)
	r.POST("/upload-chunk", a.uploadChunk)
	r.POST("/stop-recording", a.stopRecording)

	r.POST("/cut-video", a.cutVideo)
	r.POST("/export-roi-videos", a.exportRegions)
	r.POST("/detect-color", a.detectColor)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such route"})
	})
	return r
}

func (a *API) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type", "Accept", "X-Requested-With"},
		MaxAge:       12 * time.Hour,
	}
	origins := a.AllowOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.Method == http.MethodOptions {
			return
		}
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.Logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

type healthOutput struct {
	Status   string    `json:"status"`
	StartAt  time.Time `json:"start_at"`
	Sessions int       `json:"sessions"`
	Catalog  bool      `json:"catalog"`
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthOutput{
		Status:   "healthy",
		StartAt:  a.started,
		Sessions: len(a.Sessions.Sessions()),
		Catalog:  a.Catalog != nil && a.Catalog.Sink != nil,
	})
}

// fail writes err with the status its class maps to.
func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if d := faults.Diagnostics(err); d != "" {
		body["diagnostics"] = d
	}
	c.AbortWithStatusJSON(faults.HTTPStatus(err), body)
}

// jobStatus is "ok" when every target succeeded and "partial" otherwise.
func jobStatus(err error) string {
	if err != nil {
		return "partial"
	}
	return "ok"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
