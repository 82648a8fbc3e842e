// Package context carries per-request values that cross package
// boundaries. Only the request id propagated via X-Request-Id lives
// here; everything else travels as explicit arguments.
package context

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stashes the request id for handlers and the logger.
// An empty id is not stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
