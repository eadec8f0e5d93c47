package models

import (
	"encoding/json"
	"time"
)

// Origin tells where an image comes from
type Origin string

const (
	// OriginLocalPath is an image file on the local filesystem
	OriginLocalPath Origin = "local"
	// OriginRemoteURL is an image reachable over http(s)
	OriginRemoteURL Origin = "url"
)

// SourceDescriptor identifies one image to analyze.
// It is created by the source resolver and never modified afterwards.
type SourceDescriptor struct {
	Origin Origin `json:"origin"`
	Raw    string `json:"raw"`
}

// IsRemote reports whether the image must be fetched by URL
func (d SourceDescriptor) IsRemote() bool {
	return d.Origin == OriginRemoteURL
}

// AnalysisRequest is what one transport attempt sends to the vision endpoint.
// Exactly one of Image or ImageURL is set.
type AnalysisRequest struct {
	Source      SourceDescriptor
	Image       []byte
	ContentType string
	ImageURL    string
	UserAgent   string
}

// AnalysisResponse is the raw payload returned by the vision endpoint.
// Document holds the decoded but not yet validated JSON object.
type AnalysisResponse struct {
	Raw        json.RawMessage
	Document   map[string]interface{}
	StatusCode int
	Attempts   int
}

// Tag is a single label with its confidence
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ResultRecord is the canonical, persisted outcome for one source
type ResultRecord struct {
	Source            string  `json:"source"`
	Caption           string  `json:"caption"`
	CaptionConfidence float64 `json:"caption_confidence"`
	Tags              []Tag   `json:"tags"`
	Error             string  `json:"error,omitempty"`
}

// Succeeded reports whether the record carries an analysis rather than an error
func (r ResultRecord) Succeeded() bool {
	return r.Error == ""
}

// FailedRecord builds the record stored for a source that terminally failed
func FailedRecord(source, label string) ResultRecord {
	return ResultRecord{
		Source: source,
		Tags:   []Tag{},
		Error:  label,
	}
}

// BatchSummary holds the final counts of a run
type BatchSummary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}
