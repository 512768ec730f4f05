package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/cgmelamed/whydatawhy/app/ingest"
	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// readUpload reads one multipart file and parses it by file name.
func readUpload(fh *multipart.FileHeader) (ingest.Dataset, error) {
	f, err := fh.Open()
	if err != nil {
		return ingest.Dataset{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return ingest.Dataset{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	if len(content) > maxUploadBytes {
		return ingest.Dataset{}, fmt.Errorf("upload %q exceeds %d bytes", fh.Filename, maxUploadBytes)
	}
	return ingest.Parse(fh.Filename, content)
}

// loadAccount resolves the session's account. It writes the error response
// and returns false when the caller cannot proceed.
func (s *Server) loadAccount(c *gin.Context) (models.User, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in required", "reason": "unauthenticated"})
		return models.User{}, false
	}
	user, err := s.store.GetUserBySub(c.Request.Context(), claims.Subject)
	if errors.Is(err, ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found", "reason": "account_not_found"})
		return models.User{}, false
	}
	if err != nil {
		requestLogger(c, s.logger).Error("account lookup failed", zap.String("sub", claims.Subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return models.User{}, false
	}
	return user, true
}

func respondQuotaExceeded(c *gin.Context, d Decision) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   "free query limit reached",
		"reason":  "quota_exceeded",
		"upgrade": true,
		"usage":   d.Usage(),
	})
}

func setEventStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// writeFrame writes one server-sent event data frame and flushes it.
func writeFrame(w gin.ResponseWriter, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeDone(w gin.ResponseWriter) error {
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}
