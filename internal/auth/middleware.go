package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const userContextKey contextKey = "nexusUser"

// ContextUser represents the authenticated principal stored in the request context.
type ContextUser struct {
	ID      string
	Email   string
	IsAdmin bool
}

// TokenValidator is satisfied by *Service.
type TokenValidator interface {
	ValidateAccessToken(token string) (UserClaims, error)
}

// AuthMiddleware validates bearer tokens and injects the authenticated user.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := validator.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		SetUser(c, ContextUser{
			ID:      claims.UserID,
			Email:   claims.Email,
			IsAdmin: claims.IsAdmin,
		})

		c.Next()
	}
}

// RequireAdmin rejects principals without the is_admin claim. Must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// SetUser stores the principal on the request context.
func SetUser(c *gin.Context, user ContextUser) {
	c.Set(string(userContextKey), user)
}

// CurrentUser extracts the authenticated user from the context.
func CurrentUser(c *gin.Context) (ContextUser, bool) {
	value, exists := c.Get(string(userContextKey))
	if !exists {
		return ContextUser{}, false
	}
	user, ok := value.(ContextUser)
	return user, ok
}

// RequireUser fetches the authenticated user and its owner id.
func RequireUser(c *gin.Context) (string, ContextUser, bool) {
	user, ok := CurrentUser(c)
	if !ok || user.ID == "" {
		return "", ContextUser{}, false
	}
	return user.ID, user, true
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
