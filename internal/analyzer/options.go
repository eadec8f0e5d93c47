package analyzer

import (
	"fmt"
	"math"
)

// DefaultTopK is the number of tags kept per record when nothing else is configured
const DefaultTopK = 5

// AnalysisOptions controls how a response is turned into a record
type AnalysisOptions struct {
	// TopK caps the tags kept after sorting
	TopK int

	// Threshold drops tags below this confidence; nil keeps everything
	Threshold *float64
}

// DefaultOptions returns default analysis options
func DefaultOptions() AnalysisOptions {
	return AnalysisOptions{
		TopK:      DefaultTopK,
		Threshold: nil,
	}
}

// WithTopK returns options keeping at most k tags
func (opts AnalysisOptions) WithTopK(k int) AnalysisOptions {
	opts.TopK = k
	return opts
}

// WithThreshold returns options filtering tags below t
func (opts AnalysisOptions) WithThreshold(t float64) AnalysisOptions {
	opts.Threshold = &t
	return opts
}

// WithoutThreshold disables tag filtering
func (opts AnalysisOptions) WithoutThreshold() AnalysisOptions {
	opts.Threshold = nil
	return opts
}

// Validate checks the options are usable
func (opts AnalysisOptions) Validate() error {
	if opts.TopK < 1 {
		return fmt.Errorf("top-k must be at least 1, got %d", opts.TopK)
	}
	if opts.Threshold != nil {
		t := *opts.Threshold
		if math.IsNaN(t) || t < 0 || t > 1 {
			return fmt.Errorf("threshold must be within [0, 1], got %v", t)
		}
	}
	return nil
}
