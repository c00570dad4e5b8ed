package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with funcmatch field names.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to w. format is "json" or "text"; level is
// one of debug, info, warn, error. Unknown values fall back to text/info.
func New(w io.Writer, format, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
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

// WithBinaryPair tags log lines with the compared binaries.
func (l *Logger) WithBinaryPair(queryBinary, targetBinary int64) *Logger {
	return &Logger{Logger: l.Logger.With("query_binary", queryBinary, "target_binary", targetBinary)}
}

// WithBinary tags log lines with a single binary.
func (l *Logger) WithBinary(binaryID int64) *Logger {
	return &Logger{Logger: l.Logger.With("binary", binaryID)}
}

// LogFirmUP logs the outcome of a FirmUP run.
func (l *Logger) LogFirmUP(ctx context.Context, query int64, status string, steps, pairs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "firmup failed",
			"query_function", query,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "firmup completed",
		"query_function", query,
		"status", status,
		"steps", steps,
		"pairs", pairs,
	)
}

// LogNeighBSim logs one NeighBSim score.
func (l *Logger) LogNeighBSim(ctx context.Context, query, target int64, score float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "neighbsim failed",
			"query_function", query,
			"target_function", target,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "neighbsim completed",
		"query_function", query,
		"target_function", target,
		"score", score,
	)
}

// LogIngest logs the call graph extracted from one binary.
func (l *Logger) LogIngest(ctx context.Context, path string, functions, edges int, err error) {
	if err != nil {
		l.WarnContext(ctx, "ingest failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "binary ingested",
		"path", path,
		"functions", functions,
		"edges", edges,
	)
}

// LogBatch logs the summary of a batch evaluation.
func (l *Logger) LogBatch(ctx context.Context, total, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", total,
			"failed", failed,
			"success", total-failed,
		)
		return
	}
	l.InfoContext(ctx, "batch completed", "total", total)
}
