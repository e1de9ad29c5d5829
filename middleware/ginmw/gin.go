// Package ginmw provides Gin HTTP middleware for protecting resource
// endpoints with bearer tokens issued by this server.
//
// All middleware functions accept an auth.TokenVerifier, so a resource
// service can verify locally (verifier package) or against the published
// key set (jwks package) without holding the private key.
package ginmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	auth "github.com/zdesk/auth-go"
)

// Context keys for storing authentication data in gin.Context.
const (
	KeySubject  = "auth_subject"
	KeyClientID = "auth_client_id"
	KeyScopes   = "auth_scopes"
	KeyContext  = "auth_context"
)

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Auth returns Gin middleware that verifies bearer tokens. On success it
// stores the authentication context (retrievable via GetSubject,
// GetAuthContext, etc.). Responds with 401 if the token is missing or
// fails verification for any reason.
func Auth(verifier auth.TokenVerifier, opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tokenStr := extractBearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		ac, err := verifier.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(KeyContext, ac)
		c.Set(KeySubject, ac.Subject)
		c.Set(KeyClientID, ac.ClientID)
		c.Set(KeyScopes, ac.Scopes)

		c.Next()
	}
}

// RequireScope returns Gin middleware that checks a single granted scope.
// Requires Auth middleware to run first. Responds with 403 if the token
// does not carry the scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := GetAuthContext(c)
		if ac == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if !ac.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}
		c.Next()
	}
}

// RequireAnyScope returns Gin middleware that passes if the token carries
// any of the given scopes.
func RequireAnyScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := GetAuthContext(c)
		if ac == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		for _, s := range scopes {
			if ac.HasScope(s) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
	}
}

// --- Context helpers ---

// GetSubject returns the authenticated subject from the Gin context.
func GetSubject(c *gin.Context) string {
	v, _ := c.Get(KeySubject)
	s, _ := v.(string)
	return s
}

// GetClientID returns the requesting client id from the Gin context.
func GetClientID(c *gin.Context) string {
	v, _ := c.Get(KeyClientID)
	s, _ := v.(string)
	return s
}

// GetScopes returns the granted scopes from the Gin context.
func GetScopes(c *gin.Context) []string {
	v, _ := c.Get(KeyScopes)
	s, _ := v.([]string)
	return s
}

// GetAuthContext returns the full authentication context.
func GetAuthContext(c *gin.Context) *auth.AuthContext {
	v, _ := c.Get(KeyContext)
	ac, _ := v.(*auth.AuthContext)
	return ac
}

// --- internal helpers ---

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
