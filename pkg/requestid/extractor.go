package requestid

import (
	"context"
	"log/slog"
)

// LoggerExtractor returns a logger.ContextExtractor adding request_id.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if requestID := FromContext(ctx); requestID != "" {
			return slog.String("request_id", requestID), true
		}
		return slog.Attr{}, false
	}
}

// Extractor returns an audit.Extractor stamping events with the request id.
func Extractor() func(ctx context.Context) (string, bool) {
	return func(ctx context.Context) (string, bool) {
		id := FromContext(ctx)
		return id, id != ""
	}
}
