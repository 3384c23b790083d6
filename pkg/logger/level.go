package logger

import (
	"context"
	"log/slog"
)

// LevelFatal marks records that indicate a bug which must abort the current
// request, such as a cross-tenant row leaking out of storage.
const LevelFatal = slog.LevelError + 4

// Fatal logs msg at LevelFatal. It does not exit the process.
func Fatal(ctx context.Context, l *slog.Logger, msg string, attrs ...slog.Attr) {
	l.LogAttrs(ctx, LevelFatal, msg, attrs...)
}

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
		a.Value = slog.StringValue("FATAL")
	}
	return a
}
