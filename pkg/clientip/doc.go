// Package clientip resolves the address of the client behind reverse
// proxies.
//
// A Resolver consults a configured list of proxy headers before falling back
// to the TCP peer address. The resolved address is stored in the request
// context by Middleware, feeds the source key of the denial rate limiter,
// and is stamped onto audit events:
//
//	res := clientip.NewResolver("X-Forwarded-For")
//	router.Use(res.Middleware)
//	events := audit.NewLogger(store, audit.WithIPExtractor(clientip.Extractor()))
//
// Invalid addresses are skipped; when nothing valid is found the result is
// the empty string.
package clientip
