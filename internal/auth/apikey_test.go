package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, target, header string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set(headerName, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter("s3cret")

	assert.Equal(t, http.StatusUnauthorized, do(r, "/x", ""))
	assert.Equal(t, http.StatusForbidden, do(r, "/x", "wrong"))
	assert.Equal(t, http.StatusNoContent, do(r, "/x", "s3cret"))
	assert.Equal(t, http.StatusNoContent, do(r, "/x?api_key=s3cret", ""))
	assert.Equal(t, http.StatusForbidden, do(r, "/x?api_key=nope", ""))
}

func TestAPIKeyMiddlewareDisabled(t *testing.T) {
	assert.Equal(t, http.StatusNoContent, do(newRouter(""), "/x", ""))
}
