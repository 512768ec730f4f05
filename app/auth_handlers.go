package app

import (
	"net/http"

	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Health is a public health check endpoint. It reports 503 when the
// database is unreachable.
func (s *Server) Health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		requestLogger(c, s.logger).Error("health: database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// SyncAccount creates the caller's account on first sign-in and returns it.
func (s *Server) SyncAccount(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context", "reason": "unauthenticated"})
		return
	}

	user, err := s.store.UpsertUser(c.Request.Context(), claims.Subject, emailFromClaims(claims))
	if err != nil {
		requestLogger(c, s.logger).Error("account sync failed", zap.String("sub", claims.Subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync account"})
		return
	}
	c.JSON(http.StatusOK, accountView(user, s.now()))
}

// Me returns plan and usage info for the authenticated user.
func (s *Server) Me(c *gin.Context) {
	user, ok := s.loadAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, accountView(user, s.now()))
}
