// Package shipper forwards scanned check-in codes to qrrelay-server.
//
// Ship enqueues a raw code without blocking; when the buffer is full the
// oldest scan is dropped. Run submits queued scans in order to
// POST /api/v1/scans and retries a scan with exponential backoff while the
// server is unreachable or answers 5xx. Scans the server rejects (4xx) are
// logged and discarded.
package shipper
