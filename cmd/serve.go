package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/httpapi"
	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/segment"
	"github.com/andresmejia3/camrig/internal/session"
)

const shutdownGrace = 15 * time.Second

var serveBind string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording and analysis HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveBind, "bind", "b", "", "Listen address (default [server] bind)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if serveBind != "" {
		cfg.Server.Bind = serveBind
	}
	for _, dir := range []string{cfg.Paths.RecordingsDir, cfg.Paths.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail("Failed to create output directory", err)
		}
	}

	// One server per recordings root; two would race on session directories.
	lockPath := filepath.Join(cfg.Paths.RecordingsDir, ".camrig.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fail("Failed to acquire lock", err)
	}
	if !ok {
		return fail("Failed to acquire lock", fmt.Errorf("another camrig server is using %s", cfg.Paths.RecordingsDir))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release server lock", "lock", lockPath, "error", err)
		}
	}()

	t := tools()
	mgr := session.NewManager(session.Config{
		Root:             cfg.Paths.RecordingsDir,
		Tools:            t,
		ChunkFormat:      cfg.FFmpeg.ChunkFormat,
		OutputExt:        cfg.FFmpeg.OutputExt,
		DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
		Logger:           logger.With("component", "session"),
	})

	api := &httpapi.API{
		Sessions: mgr,
		Exporter: &pipeline.Exporter{
			Tools:            t,
			OutputExt:        cfg.FFmpeg.OutputExt,
			DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
			Logger:           logger.With("component", "export"),
		},
		Detector: &pipeline.Detector{
			Tools:            t,
			ResultsDir:       cfg.Paths.ResultsDir,
			OutputExt:        cfg.FFmpeg.OutputExt,
			MaxParallel:      cfg.Cut.MaxParallel,
			DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
			Logger:           logger.With("component", "detect"),
		},
		Cutter: &segment.Cutter{
			Tools:            t,
			OutputExt:        cfg.FFmpeg.OutputExt,
			MaxParallel:      cfg.Cut.MaxParallel,
			CoarseSeekMargin: cfg.Cut.CoarseSeekMargin,
			DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
			Logger:           logger.With("component", "cut"),
		},
		Catalog:      recorder(),
		Threshold:    threshold(),
		AllowOrigins: cfg.Server.AllowOrigins,
		Logger:       logger.With("component", "http"),
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "bind", cfg.Server.Bind, "recordings", cfg.Paths.RecordingsDir, "catalog", DB != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = mgr.Close(context.Background())
			return fail("Server failed", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	// Finalize any session still recording so its files are playable.
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn("sessions finalized with errors", "error", err)
	}
	return nil
}

func threshold() pipeline.Threshold {
	return pipeline.Threshold{
		VLow:    cfg.Detection.VLow,
		VHigh:   cfg.Detection.VHigh,
		MinFrac: cfg.Detection.MinFrac,
	}
}
