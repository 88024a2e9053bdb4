package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is the process-wide structured logger. It defaults to an Info-level
// text handler so packages can log before Init runs (tests, CLI helpers).
var Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init replaces the global logger with a text handler on stdout at the given level.
func Init(level string) {
	InitWithWriter(os.Stdout, level)
}

// InitWithWriter is Init with an explicit sink; tests use it to capture output.
func InitWithWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
