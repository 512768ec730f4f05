package models

import "time"

// Event is an analytics record published to the events queue.
type Event struct {
	Name        string         `json:"event"`
	UserID      string         `json:"userId"`
	Timestamp   time.Time      `json:"timestamp"`
	Environment string         `json:"environment,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

const (
	EventQuestionLogged         = "question_logged"
	EventVisualizationGenerated = "visualization_generated"
	EventUsageCharged           = "usage_charged"
)
