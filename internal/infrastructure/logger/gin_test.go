package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zapcore.DebugLevel)
	zl := zap.New(core)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(GinRequestIDKey, "req-42")
		c.Set(GinOperatorKey, "ops")
		c.Next()
	})
	r.Use(Recovery(zl), GinMiddleware(zl))
	return r, recorded
}

func requestLog(t *testing.T, recorded *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	entries := recorded.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	return entries[0]
}

func TestGinMiddleware(t *testing.T) {
	r, recorded := newLoggedRouter(t)
	r.GET("/points/balances/:userId", func(c *gin.Context) {
		L(c.Request.Context()).Info("handler")
		assert.NotNil(t, GetGinLogger(c))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/points/balances/u1?fresh=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	entry := requestLog(t, recorded)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := fieldMap(entry)
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "ops", fields["operator"])
	assert.Equal(t, "fresh=1", fields["query"])
	assert.Equal(t, "/points/balances/:userId", fields["route"])

	handlerLogs := recorded.FilterMessage("handler").All()
	require.Len(t, handlerLogs, 1)
	assert.Equal(t, "req-42", fieldMap(handlerLogs[0])["request_id"])
}

func TestGinMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusConflict, zapcore.WarnLevel},
		{http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}
	for _, tc := range tests {
		r, recorded := newLoggedRouter(t)
		r.GET("/x", func(c *gin.Context) { c.Status(tc.status) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, tc.level, requestLog(t, recorded).Level)
	}
}

func TestGinMiddleware_ProbesLogAtDebug(t *testing.T) {
	r, recorded := newLoggedRouter(t)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, zapcore.DebugLevel, requestLog(t, recorded).Level)
	_, hasRoute := fieldMap(requestLog(t, recorded))["route"]
	assert.False(t, hasRoute, "static routes do not repeat the path")
}

func TestRecovery(t *testing.T) {
	r, recorded := newLoggedRouter(t)
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Len(t, recorded.FilterMessage("panic recovered").All(), 1)
}

func TestGetGinLogger_NotSet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetGinLogger(c))
}
