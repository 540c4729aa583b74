package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/history", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func do(r http.Handler, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS_Wildcard(t *testing.T) {
	r := newRouter(CORS("*", "X-History-Length"))
	w := do(r, http.MethodGet, "/history", "http://anywhere.example")
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-History-Length", w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_AllowList(t *testing.T) {
	req := require.New(t)
	r := newRouter(CORS("http://localhost:3000, http://localhost:3001"))

	w := do(r, http.MethodGet, "/history", "http://localhost:3001")
	req.Equal(http.StatusOK, w.Code)
	req.Equal("http://localhost:3001", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodGet, "/history", "http://evil.example")
	req.Empty(w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodOptions, "/history", "http://localhost:3000")
	req.Equal(http.StatusNoContent, w.Code)
}

func TestLogger_LevelsAndSkip(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRouter(Logger(zap.New(core), "/health"))

	do(r, http.MethodGet, "/health", "")
	do(r, http.MethodGet, "/history", "")
	do(r, http.MethodGet, "/boom", "")
	do(r, http.MethodGet, "/missing", "")

	entries := logs.All()
	req.Len(entries, 3)
	req.Equal(zapcore.InfoLevel, entries[0].Level)
	req.Equal("/history", entries[0].ContextMap()["path"])
	req.Equal(zapcore.ErrorLevel, entries[1].Level)
	req.Equal(zapcore.WarnLevel, entries[2].Level)
	req.Equal(int64(http.StatusNotFound), entries[2].ContextMap()["status"])
}
