// Package api implements the HTTP REST API for the qrrelay server.
//
// New(svc, stats, norm) returns an http.Handler that serves:
//
//	POST /api/v1/scans                   submit a scanned check-in code
//	GET  /api/v1/sessions/{key}/code     freshly regenerated code for a session
//	GET  /api/v1/sessions/active         sessions still inside their course window
//	GET  /api/v1/sessions                every stored session with status hints
//	GET  /api/v1/sessions/{key}/name     display name ("unknown" if absent)
//	PUT  /api/v1/sessions/{key}/name     rename a session
//	POST /api/v1/sessions/{key}/expire   mark a session expired
//	GET  /api/v1/health                  cache size and last sweep time
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Domain errors map to status codes in statusFor.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
