package models

import (
	"time"

	"github.com/cgmelamed/whydatawhy/app/ingest"
)

type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
)

func (t ChartType) Valid() bool {
	switch t {
	case ChartBar, ChartLine, ChartPie, ChartScatter:
		return true
	}
	return false
}

// Visualization is the chart descriptor returned to the client.
type Visualization struct {
	Type  ChartType `json:"type"`
	XKey  string    `json:"xKey"`
	YKey  string    `json:"yKey"`
	Title string    `json:"title"`
}

// UsageInfo is the quota view sent with metered responses. Remaining is -1
// for Pro accounts.
type UsageInfo struct {
	IsPro     bool `json:"isPro"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// VisualizeRequest is the body of POST /api/analyze-viz.
type VisualizeRequest struct {
	Data     []ingest.Row `json:"data"`
	Question string       `json:"question"`
}

type VisualizeResponse struct {
	Visualization Visualization `json:"visualization"`
	Questions     []string      `json:"questions"`
	Usage         *UsageInfo    `json:"usage,omitempty"`
	Error         bool          `json:"error,omitempty"`
}

// LogQuestionRequest is the body of POST /api/log-question.
type LogQuestionRequest struct {
	Question  string `json:"question"`
	DataSize  int    `json:"dataSize"`
	ChartType string `json:"chartType"`
}

// AccountView is returned by GET /api/me.
type AccountView struct {
	Email            string     `json:"email,omitempty"`
	Plan             Plan       `json:"plan"`
	IsPro            bool       `json:"isPro"`
	FreeQueriesUsed  int        `json:"freeQueriesUsed"`
	TotalQueries     int        `json:"totalQueries"`
	Limit            int        `json:"limit"`
	Remaining        int        `json:"remaining"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}
