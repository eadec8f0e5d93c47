package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BatchEvent represents one step of a batch run
type BatchEvent struct {
	EventType  EventType              `json:"event_type"`
	Timestamp  time.Time              `json:"timestamp"`
	RunID      string                 `json:"run_id"`
	Sequence   int                    `json:"sequence,omitempty"`
	Total      int                    `json:"total,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
	Attempts   int                    `json:"attempts,omitempty"`
	Error      string                 `json:"error,omitempty"`
	SinkErrors int                    `json:"sink_errors,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of batch event
type EventType string

const (
	// BatchStarted once sources are resolved
	BatchStarted EventType = "batch_started"
	// ItemStarted before an item is submitted
	ItemStarted EventType = "item_started"
	// ItemSucceeded after a valid record was produced
	ItemSucceeded EventType = "item_succeeded"
	// ItemFailed after a terminal per-item failure
	ItemFailed EventType = "item_failed"
	// ItemSkipped for items not completed because the run was interrupted
	ItemSkipped EventType = "item_skipped"
	// BatchCompleted when the driver stops, interrupted or not
	BatchCompleted EventType = "batch_completed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event BatchEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event BatchEvent)
}

// LoggingObserver logs batch events
type LoggingObserver struct {
	logger *logrus.Entry
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Entry) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles batch events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event BatchEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
	}
	if event.Source != "" {
		fields["source"] = event.Source
		fields["sequence"] = event.Sequence
	}
	if event.Total > 0 {
		fields["total"] = event.Total
	}
	if event.Duration > 0 {
		fields["duration"] = event.Duration.String()
	}
	if event.Attempts > 0 {
		fields["attempts"] = event.Attempts
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	if event.SinkErrors > 0 {
		fields["sink_errors"] = event.SinkErrors
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case BatchStarted:
		entry.Info("Batch started")
	case ItemStarted:
		entry.Debug("Item started")
	case ItemSucceeded:
		entry.Info("Item succeeded")
	case ItemFailed:
		entry.Warn("Item failed")
	case ItemSkipped:
		entry.Debug("Item skipped")
	case BatchCompleted:
		entry.Info("Batch completed")
	default:
		entry.Info("Batch event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer in subscription order.
// Delivery is synchronous so observers see events in batch order.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event BatchEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, obs := range observers {
		p.deliver(ctx, obs, event)
	}
}

func (p *EventPublisher) deliver(ctx context.Context, obs Observer, event BatchEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the batch
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
