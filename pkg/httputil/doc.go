// Package httputil provides helpers for standardized JSON request parsing
// and response writing across the HTTP API handlers.
package httputil
