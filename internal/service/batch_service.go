package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-describer-go/internal/analyzer"
	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/export"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/internal/observer"
	"github.com/anime-shed/image-describer-go/internal/vision"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// BatchService drives a list of sources through analysis and export
type BatchService interface {
	// Run processes sources in order. It returns an error only for failures
	// that stop the whole batch; per-item failures end up in records.
	Run(ctx context.Context, sources []models.SourceDescriptor) (models.BatchSummary, error)
}

// RecordSink persists finished records
type RecordSink interface {
	Write(ctx context.Context, e export.Entry) []error
}

// Dependencies wires a batch service
type Dependencies struct {
	RunID      string
	Analyzer   vision.Analyzer
	Normalizer analyzer.ResponseNormalizer
	Filter     analyzer.TagFilter
	Sink       RecordSink
	Events     observer.Subject
	Out        io.Writer
	Log        *logrus.Entry
}

type batchService struct {
	runID      string
	analyzer   vision.Analyzer
	normalizer analyzer.ResponseNormalizer
	filter     analyzer.TagFilter
	sink       RecordSink
	events     observer.Subject
	report     *Reporter
	log        *logrus.Entry
}

// NewBatchService creates a sequential batch driver
func NewBatchService(deps Dependencies) BatchService {
	if deps.Filter == nil {
		deps.Filter = analyzer.NewThresholdFilter(analyzer.DefaultOptions())
	}
	if deps.Events == nil {
		deps.Events = observer.NewEventPublisher()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Log == nil {
		deps.Log = logger.WithRun(deps.RunID)
	}
	return &batchService{
		runID:      deps.RunID,
		analyzer:   deps.Analyzer,
		normalizer: deps.Normalizer,
		filter:     deps.Filter,
		sink:       deps.Sink,
		events:     deps.Events,
		report:     NewReporter(deps.Out),
		log:        deps.Log,
	}
}

// itemResult is what processing one source produced
type itemResult struct {
	record   models.ResultRecord
	raw      []byte
	attempts int
	err      error
}

func (s *batchService) Run(ctx context.Context, sources []models.SourceDescriptor) (summary models.BatchSummary, err error) {
	start := time.Now()
	summary = models.BatchSummary{RunID: s.runID, Total: len(sources)}

	s.events.NotifyObservers(ctx, observer.BatchEvent{
		EventType: observer.BatchStarted,
		RunID:     s.runID,
		Total:     len(sources),
	})
	defer func() {
		summary.Duration = time.Since(start)
		s.events.NotifyObservers(context.WithoutCancel(ctx), observer.BatchEvent{
			EventType: observer.BatchCompleted,
			RunID:     s.runID,
			Total:     summary.Total,
			Duration:  summary.Duration,
			Metadata: map[string]interface{}{
				"succeeded": summary.Succeeded,
				"failed":    summary.Failed,
				"skipped":   summary.Skipped,
			},
		})
	}()

	for i, src := range sources {
		seq := i + 1
		if ctx.Err() != nil {
			s.skip(ctx, sources[i:], seq, &summary)
			break
		}

		s.events.NotifyObservers(ctx, observer.BatchEvent{
			EventType: observer.ItemStarted,
			RunID:     s.runID,
			Sequence:  seq,
			Source:    src.Raw,
		})

		itemStart := time.Now()
		res := s.process(ctx, src)

		if errors.Is(res.err, vision.ErrInvalidDescriptor) {
			return summary, res.err
		}
		if res.err != nil && ctx.Err() != nil && isContextErr(res.err) {
			// Interrupted mid-item: no record for it or anything after it
			s.skip(ctx, sources[i:], seq, &summary)
			break
		}

		// Completed items are persisted even if an interrupt arrives now
		sinkErrs := s.sink.Write(context.WithoutCancel(ctx), export.Entry{
			Sequence: seq,
			Record:   res.record,
			Raw:      res.raw,
		})
		s.report.Item(res.record, res.err, sinkErrs)

		event := observer.BatchEvent{
			RunID:      s.runID,
			Sequence:   seq,
			Source:     src.Raw,
			Duration:   time.Since(itemStart),
			Attempts:   res.attempts,
			SinkErrors: len(sinkErrs),
		}
		if res.record.Succeeded() {
			summary.Succeeded++
			event.EventType = observer.ItemSucceeded
		} else {
			summary.Failed++
			event.EventType = observer.ItemFailed
			event.Error = res.record.Error
		}
		s.events.NotifyObservers(context.WithoutCancel(ctx), event)
	}

	return summary, nil
}

// process runs transport, normalizer and filter for one source
func (s *batchService) process(ctx context.Context, src models.SourceDescriptor) itemResult {
	resp, err := s.analyzer.Analyze(ctx, src)
	if err != nil {
		return itemResult{
			record:   models.FailedRecord(src.Raw, apperrors.Label(err)),
			attempts: attemptsOf(err),
			err:      err,
		}
	}

	rec, err := s.normalizer.Normalize(src.Raw, resp.Document)
	if err != nil {
		s.log.WithError(err).WithField("source", src.Raw).Warn("Response failed validation")
		return itemResult{
			record:   models.FailedRecord(src.Raw, apperrors.Label(err)),
			attempts: resp.Attempts,
			err:      err,
		}
	}

	return itemResult{
		record:   s.filter.Apply(rec),
		raw:      resp.Raw,
		attempts: resp.Attempts,
	}
}

func (s *batchService) skip(ctx context.Context, rest []models.SourceDescriptor, firstSeq int, summary *models.BatchSummary) {
	summary.Skipped += len(rest)
	for j, src := range rest {
		s.events.NotifyObservers(context.WithoutCancel(ctx), observer.BatchEvent{
			EventType: observer.ItemSkipped,
			RunID:     s.runID,
			Sequence:  firstSeq + j,
			Source:    src.Raw,
		})
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func attemptsOf(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Attempts
	}
	return 0
}
