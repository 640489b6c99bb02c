package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	tokenKey  contextKey = "bearer_token"

	// UserIDKey is the gin context key holding the authenticated user id.
	UserIDKey = "user_id"
)

var errMissingUserID = errors.New("token has no user id claim")

// DecodeSecret accepts the base64 encoded key shared with the user service and
// falls back to the raw bytes when the value is not base64.
func DecodeSecret(secret string) []byte {
	if key, err := base64.StdEncoding.DecodeString(secret); err == nil && len(key) > 0 {
		return key
	}
	return []byte(secret)
}

// AuthMiddleware validates an HS512 bearer token and stores the caller's id
// and raw token on both the gin and the request context.
func AuthMiddleware(key []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(key) == 0 {
			// An empty HMAC key would verify tokens signed by anyone.
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication is not configured"})
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}
		tokenString = strings.TrimSpace(tokenString)

		userID, err := parseToken(tokenString, key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(UserIDKey, userID)
		ctx := ContextWithUserID(c.Request.Context(), userID)
		ctx = ContextWithToken(ctx, tokenString)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func parseToken(tokenString string, key []byte) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return 0, err
	}

	for _, name := range []string{"userId", "user_id"} {
		if raw, ok := claims[name]; ok {
			return claimToInt64(raw)
		}
	}
	return 0, errMissingUserID
}

func claimToInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unsupported user id claim type %T", raw)
}

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the caller's bearer token for forwarding to
// collaborators.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
