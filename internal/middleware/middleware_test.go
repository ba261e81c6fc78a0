package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(RequestMeta())
	r.GET("/meta", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": RequestID(c), "ip": ClientIP(c)})
	})
	admin := r.Group("/admin", LocalOnly())
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRequestMeta(t *testing.T) {
	r := newEngine()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/meta", nil)
	req.Header.Set(HeaderRealIP, "203.0.113.7")
	req.Header.Set(HeaderRequestID, "req-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"req-1","ip":"203.0.113.7"}`, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/meta", nil)
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Contains(t, w.Body.String(), `"ip":"192.0.2.1"`)
}

func TestLocalOnly(t *testing.T) {
	r := newEngine()

	cases := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:51000", http.StatusNoContent},
		{"[::1]:51000", http.StatusNoContent},
		{"10.0.0.8:51000", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.RemoteAddr = tc.remote
		// 伪造的 x-real-ip 不能绕过
		req.Header.Set(HeaderRealIP, "127.0.0.1")
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.remote)
	}
}
