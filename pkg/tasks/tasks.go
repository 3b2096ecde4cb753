// Package tasks defines the payloads that are sent through Kafka.
package tasks

import "time"

// TurnPersistTask carries a completed chat turn to the persistence consumer.
type TurnPersistTask struct {
	TurnID    string             `json:"turn_id"`
	Username  string             `json:"username"`
	SessionID string             `json:"session_id"`
	Input     string             `json:"input"`
	Output    string             `json:"output"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
	Sources   []Source           `json:"sources"`
}

// Source mirrors a source passage on the wire.
type Source struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}
