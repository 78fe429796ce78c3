// Package notify delivers session events to configured webhooks.
//
// Two events are sent: "scanned" when a check-in code is accepted, and
// "expired" when a session is retired by the cleanup scheduler or an
// operator. Supported targets are Slack incoming webhooks, Microsoft Teams
// connectors, and plain HTTP endpoints that receive the event as JSON.
//
// Delivery is asynchronous and best effort: failures are logged and never
// reach the caller.
package notify
