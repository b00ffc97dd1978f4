package logging

import (
	"context"

	"go.uber.org/zap"
)

type requestCtxKey struct{}
type deliveryCtxKey struct{}

// WithRequestID attaches an HTTP request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithDeliveryID attaches a webhook delivery id to the context.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, deliveryCtxKey{}, id)
}

// DeliveryIDFromContext returns the webhook delivery id, or "" if absent.
func DeliveryIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deliveryCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := DeliveryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("delivery.id", id))
	}
	return fields
}
