// Package auth provides authentication middleware for the qrrelay server.
//
// APIKeyMiddleware(mode, header, key, open...) wraps an http.Handler and
// validates the API key carried in the named request header.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). Paths listed in open, such as the
// health probe, always pass. When the key is incorrect or absent the
// middleware answers 401 immediately.
package auth
