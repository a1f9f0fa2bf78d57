// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, a structured HTTP logger that scrubs
// credential material from request metadata before emitting logs. The relay's
// most sensitive values travel in query strings: the webhook handshake's
// pre-shared verify token and the OAuth callback's authorization code, plus
// any access_token parameter on proxied Graph-style URLs. All of them are
// masked by parameter name.
//
// Design goals:
//   - Default-safe: never logs request or response bodies
//   - Masks sensitive query parameters (hub.verify_token, code, access_token,
//     fb_exchange_token, client_secret) and headers (Authorization, Cookie,
//     Set-Cookie, X-Hub-Signature-256, plus custom)
//   - Produces structured JSON logs via zerolog
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// sensitiveParams lists query parameter names (lowercase) whose values are
// replaced with "[REDACTED]" in access logs.
var sensitiveParams = map[string]struct{}{
	"hub.verify_token":  {},
	"code":              {},
	"access_token":      {},
	"fb_exchange_token": {},
	"client_secret":     {},
}

// redactQuery masks the values of sensitive parameters in a raw query string.
// An unparseable query is dropped entirely rather than logged verbatim.
func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	for k := range vals {
		if _, ok := sensitiveParams[strings.ToLower(k)]; ok {
			vals[k] = []string{"[REDACTED]"}
		}
	}
	return vals.Encode()
}

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders specifies extra HTTP header names whose values will be fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// the built-in sensitive headers.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs HTTP requests and
// responses with credential material scrubbed.
//
// Behavior:
//   - Logs method, path, query string, status, response size, latency, and
//     request headers (with scrubbing applied).
//   - Sensitive query parameters are masked by name via redactQuery.
//   - Fully masks built-in sensitive headers and any additional headers
//     provided in opts.MaskHeaders.
//   - Logs at INFO level by default, WARN for 4xx, and ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Build header mask set (case-insensitive).
	maskHeaders := map[string]struct{}{
		"authorization":       {},
		"cookie":              {},
		"set-cookie":          {},
		"x-hub-signature-256": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactQuery(c.Request.URL.RawQuery)

		// Scrub headers.
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := maskHeaders[strings.ToLower(k)]; masked {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = strings.Join(vv, ", ")
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		// Severity based on status.
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
