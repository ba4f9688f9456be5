package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const adminContextKey = "auth_admin"

// Middleware validates the admin bearer token.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.ValidateToken(s.extractToken(c))
		switch {
		case err == nil:
		case errors.Is(err, ErrAdminDisabled):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(adminContextKey, true)
		c.Next()
	}
}

// IsAdmin reports whether the middleware accepted this request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(adminContextKey)
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
