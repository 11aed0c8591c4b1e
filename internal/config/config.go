// Package config loads the camrig TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths holds the directories outputs are written under.
type Paths struct {
	RecordingsDir string `toml:"recordings_dir"`
	// ResultsDir holds one directory per detection job.
	ResultsDir string `toml:"results_dir"`
}

// FFmpeg configures the external tools and their outputs.
type FFmpeg struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Preset  string `toml:"preset"`
	// ChunkFormat is the container of uploaded camera chunks (webm for browser MediaRecorder).
	ChunkFormat      string `toml:"chunk_format"`
	OutputExt        string `toml:"output_ext"`
	DiagnosticsBytes int    `toml:"diagnostics_bytes"`
}

type Server struct {
	Bind         string   `toml:"bind"`
	AllowOrigins []string `toml:"allow_origins"`
}

// Detection holds the default color-detection threshold.
type Detection struct {
	VLow    int     `toml:"v_low"`
	VHigh   int     `toml:"v_high"`
	MinFrac float64 `toml:"min_frac"`
}

type Cut struct {
	MaxParallel      int     `toml:"max_parallel"`
	CoarseSeekMargin float64 `toml:"coarse_seek_margin"`
}

type Database struct {
	URL string `toml:"url"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for camrig.
type Config struct {
	Paths     Paths     `toml:"paths"`
	FFmpeg    FFmpeg    `toml:"ffmpeg"`
	Server    Server    `toml:"server"`
	Detection Detection `toml:"detection"`
	Cut       Cut       `toml:"cut"`
	Database  Database  `toml:"database"`
	Logging   Logging   `toml:"logging"`
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.config/camrig/config.toml"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			RecordingsDir: "recordings",
			ResultsDir:    "results",
		},
		FFmpeg: FFmpeg{
			FFmpeg:           "ffmpeg",
			FFprobe:          "ffprobe",
			Preset:           "veryfast",
			ChunkFormat:      "webm",
			OutputExt:        ".mp4",
			DiagnosticsBytes: 4096,
		},
		Server: Server{
			Bind:         "127.0.0.1:8000",
			AllowOrigins: []string{"*"},
		},
		Detection: Detection{VLow: 0, VHigh: 80, MinFrac: 0.05},
		Cut:       Cut{MaxParallel: 4, CoarseSeekMargin: 2},
		Logging:   Logging{Level: "info"},
	}
}

// Load parses the file at path over the defaults. A missing file yields the
// defaults. The returned config is normalized and validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	switch {
	case err == nil:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.RecordingsDir, err = expandPath(strings.TrimSpace(c.Paths.RecordingsDir)); err != nil {
		return err
	}
	if c.Paths.ResultsDir, err = expandPath(strings.TrimSpace(c.Paths.ResultsDir)); err != nil {
		return err
	}

	c.FFmpeg.FFmpeg = strings.TrimSpace(c.FFmpeg.FFmpeg)
	c.FFmpeg.FFprobe = strings.TrimSpace(c.FFmpeg.FFprobe)
	c.FFmpeg.Preset = strings.TrimSpace(c.FFmpeg.Preset)
	c.FFmpeg.ChunkFormat = strings.TrimSpace(c.FFmpeg.ChunkFormat)
	if ext := strings.TrimSpace(c.FFmpeg.OutputExt); ext != "" && !strings.HasPrefix(ext, ".") {
		c.FFmpeg.OutputExt = "." + ext
	} else {
		c.FFmpeg.OutputExt = ext
	}

	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	c.Database.URL = strings.TrimSpace(c.Database.URL)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Paths.RecordingsDir == "" {
		return errors.New("paths.recordings_dir must be set")
	}
	if c.Paths.ResultsDir == "" {
		return errors.New("paths.results_dir must be set")
	}
	if c.FFmpeg.DiagnosticsBytes < 0 {
		return errors.New("ffmpeg.diagnostics_bytes must not be negative")
	}
	if c.Server.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
			return fmt.Errorf("server.bind: %w", err)
		}
	}
	d := c.Detection
	if d.VLow < 0 || d.VHigh > 255 || d.VLow > d.VHigh {
		return fmt.Errorf("detection: need 0 <= v_low <= v_high <= 255, got %d..%d", d.VLow, d.VHigh)
	}
	if d.MinFrac < 0 || d.MinFrac > 1 {
		return fmt.Errorf("detection.min_frac must be within [0,1], got %g", d.MinFrac)
	}
	if c.Cut.MaxParallel < 1 {
		return errors.New("cut.max_parallel must be at least 1")
	}
	if c.Cut.CoarseSeekMargin < 0 {
		return errors.New("cut.coarse_seek_margin must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

// DatabaseURL returns the configured connection string, falling back to the
// POSTGRES_* environment variables. It returns "" when neither is set.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	return u.String()
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
