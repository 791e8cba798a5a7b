package log

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// Logger provides structured logging with slog
type Logger struct {
	slog   *slog.Logger
	config Config
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = DefaultConfig().Output
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.ToSlogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	logger := slog.New(handler)
	if config.ServiceName != "" {
		logger = logger.With("service", config.ServiceName)
	}

	return &Logger{
		slog:   logger,
		config: config,
	}
}

// Default creates a logger with default configuration
func Default() *Logger {
	return New(DefaultConfig())
}

// Discard creates a logger that writes nowhere
func Discard() *Logger {
	return New(DiscardConfig())
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
	}
}

// WithGroup returns a new Logger with a group name that prefixes all attributes
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		slog:   l.slog.WithGroup(name),
		config: l.config,
	}
}

// ForRun scopes the logger to one orchestration run
func (l *Logger) ForRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// ForBatch scopes the logger to one batch
func (l *Logger) ForBatch(index int) *Logger {
	return l.With("batch", index)
}

// WithError adds error details to the logger. Coded errors contribute their
// code and recovery context.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorAttrs(err)...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// DebugContext logs a debug message with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// InfoContext logs an info message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// LogError logs err with full details at error level
func (l *Logger) LogError(msg string, err error) {
	if err == nil {
		return
	}
	l.slog.Error(msg, errorAttrs(err)...)
}

// Enabled returns whether the logger is enabled for the given level
func (l *Logger) Enabled(ctx context.Context, level Level) bool {
	return l.slog.Enabled(ctx, level.ToSlogLevel())
}

// Handler returns the underlying slog.Handler
func (l *Logger) Handler() slog.Handler {
	return l.slog.Handler()
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

func errorAttrs(err error) []any {
	var coded *errors.Error
	if !errors.As(err, &coded) {
		return []any{"error", err.Error()}
	}

	args := []any{
		"error", coded.Message,
		"error_code", string(coded.Code),
	}
	if coded.Batch >= 0 {
		args = append(args, "error_batch", coded.Batch)
	}
	if len(coded.Tasks) > 0 {
		args = append(args, "error_tasks", coded.Tasks)
	}
	if len(coded.Files) > 0 {
		args = append(args, "error_files", coded.Files)
	}
	if coded.BackupPath != "" {
		args = append(args, "backup_path", coded.BackupPath)
	}
	if coded.Cause != nil {
		args = append(args, "cause", coded.Cause.Error())
	}
	return args
}
