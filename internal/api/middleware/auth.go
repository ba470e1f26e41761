package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// AuthConfig selects the management API authentication mode. JWTSecret
// wins over TokenHash; with neither set, Auth is a no-op.
type AuthConfig struct {
	// TokenHash is the bcrypt hash of the static management token.
	TokenHash string

	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret string
}

// Enabled reports whether any authentication mode is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || c.TokenHash != ""
}

// Auth guards the management API with a bearer token.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortAuth(c, apperrors.CodeAuthFailed, "missing bearer token")
			return
		}

		if cfg.JWTSecret != "" {
			if err := verifyJWT(token, cfg.JWTSecret); err != nil {
				abortAuth(c, apperrors.CodeTokenInvalid, "invalid token")
				return
			}
		} else if bcrypt.CompareHashAndPassword([]byte(cfg.TokenHash), []byte(token)) != nil {
			abortAuth(c, apperrors.CodeTokenInvalid, "invalid token")
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func verifyJWT(token, secret string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}

func abortAuth(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(401, gin.H{
		"code":    code,
		"message": message,
	})
}
