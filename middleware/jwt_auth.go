package middleware

import (
	"errors"
	"net/http"
	"strings"

	"etf_dashboard/services/auth"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserRole  = "user_role"
	ContextClaims    = "claims"
)

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization header is required"
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", "Invalid authorization header format. Use: Bearer <token>"
	}
	return tokenString, ""
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	id, _ := claims.UserID()
	c.Set(ContextUserID, id)
	c.Set(ContextUserEmail, claims.Email)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextClaims, claims)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": msg,
	})
}

// JWTAuth rejects requests without a valid bearer token signed with secret.
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			abortUnauthorized(c, problem)
			return
		}

		claims, err := auth.ParseToken(key, tokenString)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWTAuth sets the user when a valid token is present and lets the
// request through either way.
func OptionalJWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if tokenString, problem := bearerToken(c); problem == "" {
			if claims, err := auth.ParseToken(key, tokenString); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRole only admits users whose role is one of roles. Must run after JWTAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "insufficient permissions",
		})
	}
}

// UserIDFromContext returns the authenticated user id.
func UserIDFromContext(c *gin.Context) (uint, error) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		return 0, errors.New("user not authenticated")
	}
	id, ok := v.(uint)
	if !ok || id == 0 {
		return 0, errors.New("user not authenticated")
	}
	return id, nil
}
