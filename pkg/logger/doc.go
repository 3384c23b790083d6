// Package logger builds *slog.Logger instances for authzkit components.
//
// New returns a logger configured through functional options: output format
// (json or text), minimum level, static attributes and ContextExtractor
// callbacks. Extractors run on every record, so request-scoped values such as
// the request id, tenant id and principal id are attached without threading a
// logger through every call.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "authzd"),
//		logger.WithContextExtractors(
//			requestid.LoggerExtractor(),
//			tenant.LoggerExtractor(),
//		),
//	)
//
// Attribute helpers (TenantID, PrincipalID, Permission, Decision, Reason,
// Error, ...) keep key names consistent across packages. LevelFatal is the
// severity used for tenant isolation violations; it sorts above slog.LevelError
// so alerting can match on it directly.
package logger
