// Package logging builds the zap logger shared by every component.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "console"
	OutputPath string `yaml:"output_path"`
	// SessionDir, when set, receives one log file per process start.
	SessionDir string `yaml:"session_dir"`
	// Quiet drops the stderr output, e.g. while a terminal UI owns the screen.
	Quiet bool `yaml:"-"`
}

// SessionPath is <dir>/session_<yyyymmdd_hhmmss>.log.
func SessionPath(dir string, t time.Time) string {
	return filepath.Join(dir, "session_"+t.Format("20060102_150405")+".log")
}

// New builds a logger from cfg. It also returns the session log path, or
// "" when no session file is written.
func New(cfg Config) (*zap.Logger, string, error) {
	zapConfig := zap.NewProductionConfig()

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	if cfg.Format == "json" {
		zapConfig.Encoding = "json"
	} else {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zapConfig.Sampling = nil

	var outputs []string
	switch {
	case cfg.OutputPath != "":
		outputs = append(outputs, cfg.OutputPath)
	case !cfg.Quiet:
		outputs = append(outputs, "stderr")
	}
	var session string
	if cfg.SessionDir != "" {
		if err := os.MkdirAll(cfg.SessionDir, 0o755); err != nil {
			return nil, "", eris.Wrap(err, "logging: create session dir")
		}
		session = SessionPath(cfg.SessionDir, time.Now())
		outputs = append(outputs, session)
	}
	zapConfig.OutputPaths = outputs
	if len(outputs) == 0 {
		return zap.NewNop(), "", nil
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, "", eris.Wrap(err, "logging: build logger")
	}
	return logger, session, nil
}
