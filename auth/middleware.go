// Package auth provides Gin middleware for enforcing Auth0 JWT auth.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	RequireScopes []string
	PublicPaths   map[string]bool
	DisableAuth   bool
	// Optional lets requests without an Authorization header through
	// anonymously. A header that is present must still verify.
	Optional bool
	// OnAuthenticated runs after a token verifies. A returned error aborts
	// the request with 500.
	OnAuthenticated func(c *gin.Context, claims *Claims) error
	// MissingTokenMessage replaces the error text sent when no
	// Authorization header is present.
	MissingTokenMessage string
	Logger              *zap.Logger
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	missingToken := cfg.MissingTokenMessage
	if missingToken == "" {
		missingToken = "missing authorization header"
	}

	return func(c *gin.Context) {
		if cfg.DisableAuth || AuthDisabled() {
			claims := &Claims{
				Subject: "local-dev",
				Issuer:  "local",
				Email:   "local-dev@localhost",
				Raw:     map[string]any{"sub": "local-dev"},
			}
			authenticate(c, claims, cfg, logger)
			return
		}

		if cfg.PublicPaths != nil && cfg.PublicPaths[c.FullPath()] {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && cfg.Optional {
			c.Next()
			return
		}

		if verifier == nil {
			respondUnauthorized(c, "auth verifier not configured")
			return
		}

		if authHeader == "" {
			logger.Info("auth failure: missing Authorization header", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c, missingToken)
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			logger.Info("auth failure: malformed Authorization header", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c, "invalid authorization header")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			logger.Info("auth failure: token invalid", zap.String("path", c.Request.URL.Path), zap.Error(err))
			respondUnauthorized(c, "invalid token")
			return
		}

		if len(cfg.RequireScopes) > 0 && !hasScopes(claims.Scope, cfg.RequireScopes) {
			logger.Info("auth failure: missing scopes", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c, "insufficient scope")
			return
		}

		authenticate(c, claims, cfg, logger)
	}
}

func authenticate(c *gin.Context, claims *Claims, cfg MiddlewareConfig, logger *zap.Logger) {
	ctx := WithClaims(c.Request.Context(), claims)
	c.Request = c.Request.WithContext(ctx)

	if cfg.OnAuthenticated != nil {
		if err := cfg.OnAuthenticated(c, claims); err != nil {
			logger.Error("post-auth hook failed", zap.String("sub", claims.Subject), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to load account",
			})
			return
		}
	}
	c.Next()
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func hasScopes(scopeClaim string, required []string) bool {
	if scopeClaim == "" {
		return false
	}
	available := map[string]struct{}{}
	for _, s := range strings.Fields(scopeClaim) {
		available[s] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := available[scope]; !ok {
			return false
		}
	}
	return true
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":  message,
		"reason": "unauthenticated",
	})
}
