// Package ws implements the live session feed.
//
// Hub manages a set of connected WebSocket clients and pushes the list of
// active sessions to all of them on a configurable interval (default 5s).
//
// New(src, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker. It blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// list immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "sessions",
//	  "data":  { "sessions": [ /* GET /api/v1/sessions/active rows */ ], "generated_at": "..." }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The feed is mounted at /ws/sessions by the server.
package ws
