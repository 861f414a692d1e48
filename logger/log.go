package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// G is shorthand for GetLogger, used at nearly every call site
var G = GetLogger

type loggerKey struct{}

// WithLogger returns a new context with the provided logger. Use in
// combination with logger.WithField(s) for great effect.
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the current logger from the context. If no logger is
// available, the default logger is returned.
func GetLogger(ctx context.Context) logrus.FieldLogger {
	logger := ctx.Value(loggerKey{})

	if logger == nil {
		return logrus.StandardLogger()
	}

	return logger.(logrus.FieldLogger)
}

func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithField(key, value))
}

func WithFields(ctx context.Context, fields map[string]interface{}) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithFields(fields))
}

// WithTask tags every line logged under ctx with the scheduled task that emitted it
func WithTask(ctx context.Context, taskName string) context.Context {
	return WithField(ctx, "task", taskName)
}

// WithDropBoxEntry tags the context with the identity of a single log entry, so that
// per-entry failures can be traced back to the entry that caused them.
func WithDropBoxEntry(ctx context.Context, tag string, timeMillis int64) context.Context {
	return WithFields(ctx, map[string]interface{}{
		"entryTag":  tag,
		"entryTime": timeMillis,
	})
}
