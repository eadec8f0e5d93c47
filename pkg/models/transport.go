package models

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is served by the status endpoint while a batch runs
type StatusResponse struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Total         int       `json:"total"`
	Processed     int       `json:"processed"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	SinkErrors    int       `json:"sink_errors"`
	CurrentSource string    `json:"current_source,omitempty"`
	Done          bool      `json:"done"`
}
