package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"ledgersync/config"
)

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// newLogger builds a tint handler on stderr, or on a rotating file when
// cfg.File is set. The returned closer is nil for stderr.
func newLogger(cfg *config.LogConfig, stderr *os.File) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	ll := &slog.LevelVar{}
	ll.Set(lvl)

	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""

	var (
		out     io.Writer
		closer  io.Closer
		noColor bool
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out, closer, noColor = lj, lj, true
		underSystemd = false
	} else {
		out = colorable.NewColorable(stderr)
		noColor = !isatty.IsTerminal(stderr.Fd())
	}

	logger := slog.New(tint.NewHandler(out, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	return logger, ll, closer, nil
}
