package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func authRouter(cfg AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(cfg))
	r.GET("/protected", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func request(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth_Disabled(t *testing.T) {
	r := authRouter(AuthConfig{})
	assert.Equal(t, http.StatusOK, request(r, "").Code)
}

func TestAuth_StaticToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)
	r := authRouter(AuthConfig{TokenHash: string(hash)})

	assert.Equal(t, http.StatusUnauthorized, request(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, "wrong").Code)
	assert.Equal(t, http.StatusOK, request(r, "sekrit").Code)
}

func TestAuth_JWT(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	r := authRouter(AuthConfig{JWTSecret: secret})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, request(r, signed).Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, signed+"x").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, "").Code)

	// Expired token.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedExpired, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, request(r, signedExpired).Code)

	// JWT mode wins over a configured static hash.
	hash, _ := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	both := authRouter(AuthConfig{JWTSecret: secret, TokenHash: string(hash)})
	assert.Equal(t, http.StatusUnauthorized, request(both, "sekrit").Code)
	assert.Equal(t, http.StatusOK, request(both, signed).Code)
}
