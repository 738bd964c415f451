// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or console
	// File, when set, also writes JSON lines to a rotating file.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
}

// New returns a logger writing to out (stdout when nil) plus the optional file sink.
func New(cfg Config, out io.Writer) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if out == nil {
		out = os.Stdout
	}

	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		w = out
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}

	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  maxSize,
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		})
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "quotegateway").Logger(), nil
}

// ParseLevel accepts the usual level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
}
