package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middlewares.
const (
	ClaimsKey = "claims"
	UserKey   = "user"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (ch Chain) Verify(ctx context.Context, raw string) (Token, error) {
	var errs []error
	for _, v := range ch {
		tok, err := v.Verify(ctx, raw)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no verifier configured")
	}
	return nil, errors.Join(errs...)
}

// AuthMiddleware returns a Gin middleware that requires a Bearer token
// verified by ver.
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			unauthorized(c, "missing Authorization header")
			return
		}
		if authenticate(c, ver) {
			c.Next()
		}
	}
}

// OptionalAuthMiddleware verifies a Bearer token when one is sent and lets
// anonymous requests through. A bad token is still rejected.
func OptionalAuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" || ver == nil {
			c.Next()
			return
		}
		if authenticate(c, ver) {
			c.Next()
		}
	}
}

// RequireUser rejects requests that carry no verified identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if User(c) == "" {
			unauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// User returns the verified subject of the request, or "".
func User(c *gin.Context) string {
	return c.GetString(UserKey)
}

func authenticate(c *gin.Context, ver Verifier) bool {
	// Expect 'Bearer <token>'
	var token string
	if n, _ := fmt.Sscanf(c.GetHeader("Authorization"), "Bearer %s", &token); n != 1 {
		unauthorized(c, "invalid Authorization header")
		return false
	}

	idToken, err := ver.Verify(c.Request.Context(), token)
	if err != nil {
		unauthorized(c, "invalid token")
		return false
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		unauthorized(c, "failed to parse claims")
		return false
	}

	c.Set(ClaimsKey, claims)
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		c.Set(UserKey, sub)
	}
	return true
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"kind": "Unauthorized", "msg": msg}})
}
