package analyzer

import (
	"math"

	"github.com/anime-shed/image-describer-go/pkg/models"
)

// ThresholdFilter drops tags below a minimum confidence
type ThresholdFilter struct {
	threshold *float64
}

// NewThresholdFilter creates a filter from opts; a nil or NaN threshold disables it
func NewThresholdFilter(opts AnalysisOptions) *ThresholdFilter {
	threshold := opts.Threshold
	if threshold != nil && math.IsNaN(*threshold) {
		threshold = nil
	}
	return &ThresholdFilter{threshold: threshold}
}

// Apply implements TagFilter
func (f *ThresholdFilter) Apply(rec models.ResultRecord) models.ResultRecord {
	return ApplyThreshold(rec, f.threshold)
}

// ApplyThreshold removes tags with confidence below threshold, keeping order.
// The caption is never touched and a nil threshold returns rec as is.
func ApplyThreshold(rec models.ResultRecord, threshold *float64) models.ResultRecord {
	if threshold == nil {
		return rec
	}
	kept := make([]models.Tag, 0, len(rec.Tags))
	for _, tag := range rec.Tags {
		if tag.Confidence >= *threshold {
			kept = append(kept, tag)
		}
	}
	rec.Tags = kept
	return rec
}
