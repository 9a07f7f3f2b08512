package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	err := Initialize(true)
	assert.NoError(t, err)
	assert.NotNil(t, GetLogger())
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	// Must never return nil, even when Initialize has not run
	l := GetLogger()
	assert.NotNil(t, l)
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, SessionIDKey, "sess-1")
	ctx = context.WithValue(ctx, UserIDKey, "user-1")
	ctx = context.WithValue(ctx, ServerIDKey, "srv-1")
	ctx = context.WithValue(ctx, ChannelIDKey, "chan-1")

	fields := appendContextFields(ctx, nil)

	names := make(map[string]bool)
	for _, f := range fields {
		names[f.Key] = true
	}
	assert.True(t, names["session_id"])
	assert.True(t, names["user_id"])
	assert.True(t, names["server_id"])
	assert.True(t, names["channel_id"])
	assert.True(t, names["service"])
}

func TestAppendContextFields_NilContext(t *testing.T) {
	fields := appendContextFields(nil, []zap.Field{zap.String("k", "v")})
	assert.Len(t, fields, 1)
}

func TestAppendContextFields_EmptyContext(t *testing.T) {
	fields := appendContextFields(context.Background(), nil)
	// Only the service field is appended
	assert.Len(t, fields, 1)
	assert.Equal(t, "service", fields[0].Key)
}
