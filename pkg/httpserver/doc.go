// Package httpserver runs the authzd HTTP listener with graceful shutdown
// and exposes liveness and readiness handlers.
//
// Run blocks until its context ends and then drains in-flight requests
// within the shutdown timeout, which makes it a natural errgroup member:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// HealthCheckHandler reports each named dependency check as JSON and answers
// 503 when any of them fails.
package httpserver
