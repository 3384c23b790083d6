// Package requestid attaches a correlation id to every HTTP request.
//
// Middleware reuses a well-formed X-Request-ID header or generates a UUID,
// stores it in the request context and echoes it in the response. The id
// flows into log records through LoggerExtractor and into audit events
// through Extractor:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	events := audit.NewLogger(store, audit.WithRequestIDExtractor(requestid.Extractor()))
//	handler := requestid.Middleware(router)
//
// Malformed ids supplied by a client are replaced silently.
package requestid
