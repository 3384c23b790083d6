package clientip

import (
	"context"
	"log/slog"
)

type clientIPContextKey struct{}

// SetIPToContext stores the client address in ctx.
func SetIPToContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// GetIPFromContext returns the address stored by Middleware.
func GetIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// Extractor returns an audit.Extractor stamping events with the client
// address. The denial rate limiter keys on the same value.
func Extractor() func(ctx context.Context) (string, bool) {
	return func(ctx context.Context) (string, bool) {
		ip := GetIPFromContext(ctx)
		return ip, ip != ""
	}
}

// LoggerExtractor returns a logger.ContextExtractor adding client_ip.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ip := GetIPFromContext(ctx); ip != "" {
			return slog.String("client_ip", ip), true
		}
		return slog.Attr{}, false
	}
}
