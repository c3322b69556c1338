// Package httpmw holds the middleware that wraps the demo router.
//
// httpserver.NewHandler applies them outermost first: SecurityHeaders,
// Recover, RequestID, ClientIP, CORS, the rate limiter, the otelhttp
// server span, TraceResponseHeaders, metrics, WithLogger. Inside chi the
// router itself runs AnnotateHTTPRoute, AccessLog and MaxBody, and route
// groups add Scope.
//
// Request ids arriving from the edge are kept only when they look like ids.
// Logged fields are limited to values the server derived (peer and client
// address, method, path, route, project), never headers or query strings.
package httpmw
