// Package logging builds the logger shared by every component.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"todoline/internal/config"
)

const Prefix = "todoline: "

// New returns a logger writing to the rotating file named in cfg, or to
// stderr when no file is configured. A relative file is resolved against the
// workspace. The closer releases the file.
func New(workspace string, cfg *config.Config) (*log.Logger, io.Closer) {
	if cfg == nil || cfg.Log.File == "" {
		return log.New(os.Stderr, Prefix, log.LstdFlags), nopCloser{}
	}
	path := cfg.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	return log.New(w, Prefix, log.LstdFlags), w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

