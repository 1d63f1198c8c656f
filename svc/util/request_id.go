package util

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id stored in ctx, or "" when none is set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDFrom keeps a well-formed inbound id and mints a fresh one otherwise.
func RequestIDFrom(header string) string {
	if u, err := uuid.Parse(header); err == nil {
		return u.String()
	}
	return NewRequestID()
}
func NewRequestID() string {
	return uuid.New().String()
}
