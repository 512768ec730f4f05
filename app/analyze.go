package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cgmelamed/whydatawhy/app/ingest"
	"github.com/cgmelamed/whydatawhy/app/llm"
	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const analysisSystemPrompt = `You are a helpful data analysis assistant. You can analyze various types of data files including Excel spreadsheets, CSV files, JSON, and text files.

When analyzing data:
1. Provide clear insights and summaries
2. Identify patterns and trends
3. Answer specific questions about the data
4. Suggest relevant follow-up analyses
5. Be concise but thorough

If no specific question is asked, provide a general summary of the data including key statistics and observations.`

const (
	defaultAnalysisMessage = "Please analyze this data and provide insights."
	greetingMessage        = "Hello! Please upload some data files and I can help you analyze them."
	notConfiguredMessage   = "OpenAI API key not configured. Please add OPENAI_API_KEY to your environment variables."
	streamErrorMessage     = "Failed to process request"
)

// Analyze answers a free-form question about uploaded files as a stream of
// server-sent events.
func (s *Server) Analyze(c *gin.Context) {
	logger := requestLogger(c, s.logger)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4*maxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		logger.Info("analyze: invalid form", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}

	var account *models.User
	if _, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
		user, ok := s.loadAccount(c)
		if !ok {
			return
		}
		decision, err := s.gate.Check(c.Request.Context(), user.ID)
		if err != nil {
			logger.Error("usage check failed", zap.String("user_id", user.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check usage"})
			return
		}
		recordDecision(decision)
		if !decision.Allowed {
			respondQuotaExceeded(c, decision)
			return
		}
		account = &user
	}

	message := ""
	if vals := form.Value["message"]; len(vals) > 0 {
		message = strings.TrimSpace(vals[0])
	}
	dataContext := describeUploads(form.File["files"], logger)
	userPrompt := buildAnalysisPrompt(message, dataContext)

	setEventStreamHeaders(c)

	if !s.llm.Configured() {
		_ = writeFrame(c.Writer, gin.H{"content": notConfiguredMessage})
		_ = writeDone(c.Writer)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, err := s.llm.Stream(ctx, analysisSystemPrompt, userPrompt)
	if err != nil {
		modelRequestsTotal.WithLabelValues("analyze", "error").Inc()
		logger.Error("open model stream failed", zap.Error(err))
		_ = writeFrame(c.Writer, gin.H{"error": streamErrorMessage})
		return
	}

	tokens, errc := relayTokens(ctx, stream)
	for tok := range tokens {
		if err := writeFrame(c.Writer, gin.H{"content": tok}); err != nil {
			// Client went away; cancelling ctx stops the upstream stream.
			cancel()
			logger.Info("analyze: client disconnected", zap.Error(err))
			return
		}
	}
	if err := <-errc; err != nil {
		modelRequestsTotal.WithLabelValues("analyze", "error").Inc()
		if !errors.Is(err, context.Canceled) {
			logger.Error("model stream failed", zap.Error(err))
		}
		_ = writeFrame(c.Writer, gin.H{"error": streamErrorMessage})
		return
	}
	_ = writeDone(c.Writer)
	modelRequestsTotal.WithLabelValues("analyze", "ok").Inc()

	if account != nil {
		s.charge(ctx, logger, *account, message)
	}
}

// relayTokens pumps non-empty deltas from stream into an unbuffered channel.
// The error channel receives exactly one value once the stream ends: nil on
// a clean finish.
func relayTokens(ctx context.Context, stream llm.TokenStream) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer stream.Close()
		for {
			tok, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				errc <- nil
				return
			}
			if err != nil {
				errc <- err
				return
			}
			if tok == "" {
				continue
			}
			select {
			case tokens <- tok:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return tokens, errc
}

func describeUploads(files []*multipart.FileHeader, logger *zap.Logger) string {
	var sb strings.Builder
	for _, fh := range files {
		ds, err := readUpload(fh)
		if err != nil {
			logger.Warn("parse upload failed", zap.String("file", fh.Filename), zap.Error(err))
			fmt.Fprintf(&sb, "\n\nFile: %s - Error parsing file", fh.Filename)
			continue
		}
		fmt.Fprintf(&sb, "\n\nFile: %s\n%s", fh.Filename, ingest.Summarize(ds))
	}
	return sb.String()
}

func buildAnalysisPrompt(message, dataContext string) string {
	if dataContext == "" {
		if message == "" {
			return greetingMessage
		}
		return message
	}
	if message == "" {
		message = defaultAnalysisMessage
	}
	return message + "\n\nData context:" + dataContext
}

// charge records a metered query after the response has been delivered.
func (s *Server) charge(ctx context.Context, logger *zap.Logger, user models.User, question string) (Decision, error) {
	decision, err := s.gate.Increment(ctx, user.ID, question)
	if err != nil {
		logger.Error("usage increment failed", zap.String("user_id", user.ID), zap.Error(err))
		reportError(ctx, err)
		return Decision{}, err
	}
	s.publish(ctx, models.Event{
		Name:   models.EventUsageCharged,
		UserID: user.ID,
		Properties: map[string]any{
			"isPro":     decision.IsPro,
			"remaining": decision.Remaining,
		},
	})
	return decision, nil
}
