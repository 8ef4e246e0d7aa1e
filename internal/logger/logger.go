package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// Options controls where log records are written.
type Options struct {
	Level string
	// File, when set, receives a rotated copy of every record.
	File string
	// Console disables stdout output when false. Interactive commands turn it
	// off so log lines do not interleave with the conversation.
	Console bool
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Setup replaces L according to opts and returns a closer for the log file.
func Setup(opts Options) io.Closer {
	SetLevel(opts.Level)

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stdout)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		writers = append(writers, rotated)
		closer = rotated
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	L = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(L)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
