package observer

import (
	"context"
	"sync"
	"time"

	"github.com/anime-shed/image-describer-go/pkg/models"
)

// StatusObserver keeps a live snapshot of batch progress
type StatusObserver struct {
	mu     sync.RWMutex
	status models.StatusResponse
}

// NewStatusObserver creates a status observer for runID
func NewStatusObserver(runID string) *StatusObserver {
	return &StatusObserver{status: models.StatusResponse{RunID: runID}}
}

// OnEvent updates the snapshot
func (o *StatusObserver) OnEvent(ctx context.Context, event BatchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case BatchStarted:
		o.status.Total = event.Total
		o.status.StartedAt = event.Timestamp
		if o.status.StartedAt.IsZero() {
			o.status.StartedAt = time.Now()
		}
	case ItemStarted:
		o.status.CurrentSource = event.Source
	case ItemSucceeded:
		o.status.Processed++
		o.status.Succeeded++
		o.status.SinkErrors += event.SinkErrors
		o.status.CurrentSource = ""
	case ItemFailed:
		o.status.Processed++
		o.status.Failed++
		o.status.SinkErrors += event.SinkErrors
		o.status.CurrentSource = ""
	case ItemSkipped:
		o.status.Skipped++
	case BatchCompleted:
		o.status.Done = true
		o.status.CurrentSource = ""
	}
}

// GetObserverName returns the observer name
func (o *StatusObserver) GetObserverName() string {
	return "status_observer"
}

// Snapshot returns a copy of the current status
func (o *StatusObserver) Snapshot() models.StatusResponse {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}
