// Package config loads the server configuration from the `server:` section
// of config.yaml.
//
// Config fields:
//   - HTTPPort                  port for the REST API, /metrics and the WebSocket feed (default 8080)
//   - Auth.Mode                 "apikey" or "none"
//   - Auth.KeyEnv               environment variable holding the expected API key
//   - Auth.Header               HTTP header name (default "x-api-key")
//   - Session.CacheTTL          how long a record stays cached (default 5m)
//   - Session.CourseTTL         how long a scan stays valid (default 20m)
//   - Session.SweepInterval     cleanup period (default 60s)
//   - Session.GridPeriod        regenerated code time step (default 5s)
//   - Session.StoreTimeout      bound on each store call (default 5s)
//   - Session.UTCOffsetHours    zone of observation times (default 8)
//   - Storage.Driver            "memory" or "postgres"
//   - Storage.DSNEnv            environment variable holding the Postgres DSN
//   - Storage.Migrate           apply embedded migrations at startup
//   - Notify.Webhooks           slack | teams | http targets for scan and expiry events
//   - Feed.Interval             WebSocket push period (default 5s)
//   - Log.Level                 debug | info | warn | error
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change.
package config
