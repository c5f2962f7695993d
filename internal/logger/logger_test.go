package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit_JSONInProduction(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(false, buf)
	Log().Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	Log().Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestFromContext_AddsRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(true, buf)

	ctx := ContextWithRequestID(context.Background(), "rid-123")
	assert.Equal(t, "rid-123", RequestIDFromContext(ctx))

	FromContext(ctx).Info("with id")
	assert.Contains(t, buf.String(), "request_id=rid-123")

	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Same(t, ctx, ContextWithRequestID(ctx, ""))
}
