// Package cache holds the in-memory view of attendance sessions that mirrors
// the persistent store.
//
// Every operation (Insert, Get, Remove, one full Sweep) runs under a single
// exclusive lock, and no operation calls out to the store. Sweep evicts an
// entry when any of three signals fires:
//
//   - stale:   the entry has been cached longer than the cache TTL
//   - expired: the record already carries the expired flag
//   - aged:    the scan it holds is older than the course TTL
//
// The evicted keys are returned so the caller can mark them expired in the
// store outside the lock.
package cache
