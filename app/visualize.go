package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/cgmelamed/whydatawhy/app/ingest"
	"github.com/cgmelamed/whydatawhy/app/models"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const visualizationSystemPrompt = `You are a data visualization expert. Analyze the provided data and suggest the best visualization configuration.

Return a JSON object with:
1. "visualization": Object with:
   - "type": "bar", "line", "pie", or "scatter"
   - "xKey": The column name to use for X axis
   - "yKey": The column name to use for Y axis
   - "title": A descriptive title for the chart
2. "questions": Array of 5-7 specific, insightful questions about this data that would lead to interesting visualizations

Make sure the xKey and yKey are actual column names from the data.`

const (
	maxVisualizedRows  = 100
	promptSampleRows   = 10
	maxQuestions       = 7
	defaultVizQuestion = "What is the most interesting pattern in this data?"
	fallbackTitle      = "Data Visualization"
	sampleTitle        = "Sample Visualization"
)

var (
	fallbackQuestions = []string{
		"What are the main trends?",
		"What are the highest values?",
		"How does the data change over time?",
		"What patterns emerge from the data?",
	}
	sampleQuestions = []string{
		"What are the trends in this data?",
		"What are the top values?",
		"How does the data distribute?",
		"Are there any outliers?",
		"What patterns can we identify?",
	}

	errMalformedReply = errors.New("model reply is missing visualization or questions")
)

// AnalyzeViz suggests a chart and follow-up questions for a table of rows.
func (s *Server) AnalyzeViz(c *gin.Context) {
	logger := requestLogger(c, s.logger)

	user, ok := s.loadAccount(c)
	if !ok {
		return
	}

	var req models.VisualizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Info("analyze-viz: invalid body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}

	ctx := c.Request.Context()
	decision, err := s.gate.Check(ctx, user.ID)
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

	rows := req.Data
	if len(rows) > maxVisualizedRows {
		rows = rows[:maxVisualizedRows]
	}
	columns := ingest.Columns(rows)
	question := strings.TrimSpace(req.Question)

	if !s.llm.Configured() {
		c.JSON(http.StatusOK, sampleVisualization(columns))
		return
	}

	resp, err := s.suggestVisualization(ctx, rows, columns, question)
	if err != nil {
		modelRequestsTotal.WithLabelValues("analyze_viz", "fallback").Inc()
		logger.Warn("visualization suggestion failed, using fallback",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, fallbackVisualization(columns))
		return
	}
	modelRequestsTotal.WithLabelValues("analyze_viz", "ok").Inc()

	usage := decision.Usage()
	if after, err := s.charge(ctx, logger, user, question); err == nil {
		usage = after.Usage()
	}
	resp.Usage = &usage

	s.publish(ctx, models.Event{
		Name:   models.EventVisualizationGenerated,
		UserID: user.ID,
		Properties: map[string]any{
			"chartType": resp.Visualization.Type,
			"rows":      len(rows),
			"columns":   len(columns),
		},
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) suggestVisualization(ctx context.Context, rows []ingest.Row, columns []string, question string) (models.VisualizeResponse, error) {
	sample := rows
	if len(sample) > promptSampleRows {
		sample = sample[:promptSampleRows]
	}
	sampleJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return models.VisualizeResponse{}, fmt.Errorf("encode sample rows: %w", err)
	}
	if question == "" {
		question = defaultVizQuestion
	}

	prompt := fmt.Sprintf(`Data columns: %s

Sample data (first %d rows):
%s

User question: %s

Analyze this data and suggest the best visualization for the question, along with other interesting questions to explore.`,
		strings.Join(columns, ", "), promptSampleRows, sampleJSON, question)

	reply, err := s.llm.CompleteJSON(ctx, visualizationSystemPrompt, prompt)
	if err != nil {
		return models.VisualizeResponse{}, err
	}
	return parseVisualizationReply(reply, columns)
}

// parseVisualizationReply validates a model reply and repairs its chart type
// and axis keys against columns.
func parseVisualizationReply(reply string, columns []string) (models.VisualizeResponse, error) {
	if !gjson.Valid(reply) {
		return models.VisualizeResponse{}, errors.New("model reply is not valid JSON")
	}
	root := gjson.Parse(reply)
	viz := root.Get("visualization")
	qs := root.Get("questions")
	if !viz.IsObject() || !qs.IsArray() {
		return models.VisualizeResponse{}, errMalformedReply
	}

	var questions []string
	for _, q := range qs.Array() {
		if q.Type != gjson.String {
			continue
		}
		if text := strings.TrimSpace(q.String()); text != "" {
			questions = append(questions, text)
		}
	}
	if len(questions) == 0 {
		return models.VisualizeResponse{}, errMalformedReply
	}
	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}

	chart := models.ChartType(strings.ToLower(strings.TrimSpace(viz.Get("type").String())))
	if !chart.Valid() {
		chart = models.ChartBar
	}
	title := strings.TrimSpace(viz.Get("title").String())
	if title == "" {
		title = fallbackTitle
	}
	x, y := repairAxes(viz.Get("xKey").String(), viz.Get("yKey").String(), columns)

	return models.VisualizeResponse{
		Visualization: models.Visualization{Type: chart, XKey: x, YKey: y, Title: title},
		Questions:     questions,
	}, nil
}

// repairAxes replaces axis keys that are not columns of the data.
func repairAxes(x, y string, columns []string) (string, string) {
	if !slices.Contains(columns, x) {
		x = defaultXKey(columns)
	}
	if !slices.Contains(columns, y) {
		y = defaultYKey(columns)
	}
	return x, y
}

func defaultXKey(columns []string) string {
	if len(columns) > 0 {
		return columns[0]
	}
	return "x"
}

func defaultYKey(columns []string) string {
	switch {
	case len(columns) > 1:
		return columns[1]
	case len(columns) == 1:
		return columns[0]
	}
	return "y"
}

func fallbackVisualization(columns []string) models.VisualizeResponse {
	return models.VisualizeResponse{
		Visualization: models.Visualization{
			Type:  models.ChartBar,
			XKey:  defaultXKey(columns),
			YKey:  defaultYKey(columns),
			Title: fallbackTitle,
		},
		Questions: slices.Clone(fallbackQuestions),
		Error:     true,
	}
}

func sampleVisualization(columns []string) models.VisualizeResponse {
	return models.VisualizeResponse{
		Visualization: models.Visualization{
			Type:  models.ChartBar,
			XKey:  defaultXKey(columns),
			YKey:  defaultYKey(columns),
			Title: sampleTitle,
		},
		Questions: slices.Clone(sampleQuestions),
	}
}
