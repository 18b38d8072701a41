package tally

import (
	"context"

	"github.com/monzo/slog"
)

// A Logger receives an EndPoint's log events. A trailing map[string]string param is treated as event metadata, as
// slog does.
type Logger interface {
	Error(ctx context.Context, msg string, params ...interface{})
	Warn(ctx context.Context, msg string, params ...interface{})
	Info(ctx context.Context, msg string, params ...interface{})
	Debug(ctx context.Context, msg string, params ...interface{})
}

// slogLogger forwards to slog's default logger.
type slogLogger struct{}

func (slogLogger) Error(ctx context.Context, msg string, params ...interface{}) {
	slog.Error(ctx, msg, params...)
}

func (slogLogger) Warn(ctx context.Context, msg string, params ...interface{}) {
	slog.Warn(ctx, msg, params...)
}

func (slogLogger) Info(ctx context.Context, msg string, params ...interface{}) {
	slog.Info(ctx, msg, params...)
}

func (slogLogger) Debug(ctx context.Context, msg string, params ...interface{}) {
	slog.Debug(ctx, msg, params...)
}

// loggerBox keeps the dynamic type stored in an atomic.Value constant.
type loggerBox struct {
	Logger
}
