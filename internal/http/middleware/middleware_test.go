package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EarthModule/fairdata-metax-v3/internal/http/middleware"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
)

var key = []byte("secret")

func engine(t *testing.T, handlers ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t)))
	handlers = append(handlers, func(c *gin.Context) {
		user := utils.UserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user": user.ID, "admin": user.Admin})
	})
	r.GET("/", handlers...)
	return r
}

func get(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := engine(t, middleware.JWTAuthMiddleware(key))

	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"Authorization": "Bearer garbage"}).Code)

	other, err := utils.GenerateJWT([]byte("other"), "teppo", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"Authorization": "Bearer " + other}).Code)

	tok, err := utils.GenerateJWT(key, "teppo", true)
	require.NoError(t, err)
	rec := get(r, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user": "teppo", "admin": true}`, rec.Body.String())
}

func TestOptionalJWTAuthMiddleware(t *testing.T) {
	r := engine(t, middleware.OptionalJWTAuthMiddleware(key))

	rec := get(r, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user": "", "admin": false}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"Authorization": "Bearer garbage"}).Code)
}

func TestCORSMiddleware(t *testing.T) {
	r := engine(t, middleware.CORSMiddleware(true, []string{"https://etsin.fairdata.fi"}))

	rec := get(r, map[string]string{"Origin": "https://etsin.fairdata.fi"})
	assert.Equal(t, "https://etsin.fairdata.fi", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(r, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	r = engine(t, middleware.CORSMiddleware(false, nil))
	rec = get(r, map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
