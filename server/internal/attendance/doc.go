// Package attendance is the facade the HTTP layer talks to. It ties the
// code parser, the session cache, the persistent store and the regenerator
// together.
//
// Write path: a scanned code is parsed, written to the store, and only then
// removed from the cache so the next reader repopulates from the store.
// Read path: a session is served from the cache, or loaded from the store
// and cached, and a fresh code is minted on the verifier's time grid.
//
// Every store call is bounded by the policy's store timeout.
package attendance
