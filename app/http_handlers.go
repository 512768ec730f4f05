package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cgmelamed/whydatawhy/app/ingest"
	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const noQuestionProvided = "No question provided"

// ParseFile decodes one uploaded table and returns its rows, or the rows of
// the first sheet of a workbook.
func (s *Server) ParseFile(c *gin.Context) {
	logger := requestLogger(c, s.logger)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	ds, err := readUpload(fh)
	if errors.Is(err, ingest.ErrUnsupportedFileType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
		return
	}
	if err != nil {
		logger.Warn("parse file failed", zap.String("file", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse file"})
		return
	}
	if ds.Kind == ingest.KindText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
		return
	}

	rows := ds.FirstRows()
	if rows == nil {
		rows = []ingest.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"parsed": rows})
}

type questionDataInfo struct {
	DataSize  int    `json:"dataSize"`
	ChartType string `json:"chartType"`
}

// LogQuestion records a question asked from the UI. It always answers 200;
// success is false when anything failed.
func (s *Server) LogQuestion(c *gin.Context) {
	logger := requestLogger(c, s.logger)
	ctx := c.Request.Context()

	var req models.LogQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("question log: invalid body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = noQuestionProvided
	}

	userID := ""
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		user, err := s.store.GetUserBySub(ctx, claims.Subject)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			// not synced yet; logged anonymously
		case err != nil:
			logger.Error("question log: account lookup failed", zap.String("sub", claims.Subject), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"success": false})
			return
		default:
			userID = user.ID
			info, _ := json.Marshal(questionDataInfo{DataSize: req.DataSize, ChartType: req.ChartType})
			if err := s.store.InsertQuery(ctx, user.ID, question, nullIfEmpty(string(info))); err != nil {
				logger.Error("question log: insert failed", zap.String("user_id", user.ID), zap.Error(err))
				c.JSON(http.StatusOK, gin.H{"success": false})
				return
			}
		}
	}

	logger.Info("question logged",
		zap.String("question", question),
		zap.Int("data_size", req.DataSize),
		zap.String("chart_type", req.ChartType),
		zap.String("user_id", userID),
	)
	s.publish(ctx, models.Event{
		Name:   models.EventQuestionLogged,
		UserID: userID,
		Properties: map[string]any{
			"question":  question,
			"dataSize":  req.DataSize,
			"chartType": req.ChartType,
		},
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}
