package service

import (
	"errors"
	"fmt"
	"io"
	"sync"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// Reporter prints the human-readable per-item report
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter creates a reporter writing to w
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Item prints one finished record. err is the per-item failure, if any.
func (r *Reporter) Item(rec models.ResultRecord, err error, sinkErrs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.w, "\n== %s\n", rec.Source)
	if rec.Succeeded() {
		fmt.Fprintf(r.w, "Caption: %s (%.2f)\n", rec.Caption, rec.CaptionConfidence)
		for _, tag := range rec.Tags {
			fmt.Fprintf(r.w, "- %s (%.2f)\n", tag.Name, tag.Confidence)
		}
	} else {
		line := fmt.Sprintf("ERROR: %s: %s", rec.Source, rec.Error)
		if detail := errorDetail(err); detail != "" {
			line += " (" + detail + ")"
		}
		fmt.Fprintln(r.w, line)
	}

	for _, se := range sinkErrs {
		fmt.Fprintf(r.w, "WARNING: %s: %v\n", rec.Source, se)
	}
}

func errorDetail(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.StatusCode != 0 {
			msg = fmt.Sprintf("%s, status %d", msg, appErr.StatusCode)
		}
		if appErr.Attempts > 1 {
			msg = fmt.Sprintf("%s, %d attempts", msg, appErr.Attempts)
		}
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
