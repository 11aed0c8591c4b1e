package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/catalog"
	"github.com/andresmejia3/camrig/internal/config"
	"github.com/andresmejia3/camrig/internal/ffmpeg"
	"github.com/andresmejia3/camrig/internal/logging"
	"github.com/andresmejia3/camrig/internal/store"
)

var (
	// DB is the optional catalog connection shared by subcommands. It is nil
	// when no database is configured.
	DB *store.Store

	cfg    *config.Config
	logger *slog.Logger

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "camrig",
	Short:         "Multi-camera recording and video analysis toolkit",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return &cliError{context: "Failed to load configuration", err: err}
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}

		logger, err = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return &cliError{context: "Failed to configure logging", err: err}
		}
		slog.SetDefault(logger)

		url := cfg.DatabaseURL()
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return &cliError{context: "Failed to connect to database", err: err}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		showError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the TOML config (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: [database] url or POSTGRES_* env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func tools() ffmpeg.Tools {
	return ffmpeg.Tools{
		FFmpeg:  cfg.FFmpeg.FFmpeg,
		FFprobe: cfg.FFmpeg.FFprobe,
		Preset:  cfg.FFmpeg.Preset,

		DiagnosticsBytes: cfg.FFmpeg.DiagnosticsBytes,
	}
}

// recorder returns a catalog recorder, inert when DB is nil.
func recorder() *catalog.Recorder {
	r := &catalog.Recorder{Logger: logger}
	if DB != nil {
		r.Sink = DB
	}
	return r
}

func requireDB() error {
	if DB == nil {
		return &cliError{
			context: "No database configured",
			err:     fmt.Errorf("set --db, [database] url, or POSTGRES_HOST"),
		}
	}
	return nil
}
