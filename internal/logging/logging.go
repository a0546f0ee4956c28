// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bingosuite/inspector/config"
)

// New returns a logger writing human readable lines to stderr and, when a
// file is configured, JSON lines to a rotating file.
func New(cfg config.LoggingConfig) (zerolog.Logger, error) {
	return newLogger(cfg, os.Stderr, !term.IsTerminal(int(os.Stderr.Fd())))
}

func newLogger(cfg config.LoggingConfig, console io.Writer, noColor bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", cfg.Level)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen, NoColor: noColor}}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}
