package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattjoyce/pipec/internal/checksum"
)

var (
	mu     sync.Mutex
	once   sync.Once
	out    io.Writer = os.Stderr
	logger *slog.Logger
)

// Setup initializes the global logger.
// Level defaults to INFO when unrecognised; format is "json" (default) or "text".
func Setup(level, format string) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		logger = newLogger(out, level, format)
		slog.SetDefault(logger)
	})
}

// SetOutput redirects all subsequent log output to w, keeping the level and
// format of the current configuration.
func SetOutput(w io.Writer, level, format string) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = newLogger(w, level, format)
	slog.SetDefault(logger)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogger(out, "INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPipeline returns a logger with the pipeline hash field set.
func WithPipeline(hash uint64) *slog.Logger {
	return Get().With(slog.String("pipeline_hash", checksum.FormatCompact(hash)))
}

// WithBuild returns a logger with the build_id field set.
func WithBuild(id string) *slog.Logger {
	return Get().With(slog.String("build_id", id))
}

// WithStage returns a logger with the stage field set.
func WithStage(stage string) *slog.Logger {
	return Get().With(slog.String("stage", stage))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
