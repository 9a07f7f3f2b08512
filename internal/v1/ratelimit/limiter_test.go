package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ginContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)
	c.Request.RemoteAddr = "10.0.0.1:55000"
	return c, rec
}

func TestAllowWebSocket_EnforcesLimit(t *testing.T) {
	l, err := New("2-M", nil)
	require.NoError(t, err)

	c1, _ := ginContext(t)
	assert.True(t, l.AllowWebSocket(c1))
	c2, _ := ginContext(t)
	assert.True(t, l.AllowWebSocket(c2))

	c3, rec := ginContext(t)
	assert.False(t, l.AllowWebSocket(c3))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestNew_InvalidRate(t *testing.T) {
	_, err := New("lots", nil)
	assert.Error(t, err)
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	c, _ := ginContext(t)
	assert.True(t, l.AllowWebSocket(c))
}
