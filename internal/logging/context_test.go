package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithDeliveryID(ctx, "gh-delivery-42")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "gh-delivery-42", DeliveryIDFromContext(ctx))
}

func TestWithRequestIDEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Empty(t, ContextFields(ctx))
}
